// Package bot serves lessons over Telegram.
package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v4"
	"gopkg.in/telebot.v4/middleware"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("telegram bot token is not configured")

type Bot struct {
	api   *telebot.Bot
	tutor *Tutor
	log   *zap.Logger
}

// NewBot connects to Telegram and wires the lesson commands.
func NewBot(cfg config.BotConfig, lessons *lessonService.Service, log *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if log == nil {
		log = zap.NewNop()
	}

	api, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Poller: &telebot.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c telebot.Context) {
			log.Error("telegram handler failed", zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}

	b := &Bot{api: api, log: log}
	b.tutor = NewTutor(lessons, b.push, time.Second, log)
	return b, nil
}

func (b *Bot) push(chatID int64, text string) {
	if _, err := b.api.Send(telebot.ChatID(chatID), text); err != nil {
		b.log.Warn("telegram push failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// Start registers the handlers and polls until Stop is called.
func (b *Bot) Start(ctx context.Context) {
	b.api.Use(middleware.AutoRespond())

	b.api.Handle("/start", func(c telebot.Context) error {
		_ = c.Notify(telebot.Typing)
		return c.Send(b.tutor.Start(ctx, c.Chat().ID, c.Message().Payload))
	})

	b.api.Handle(telebot.OnText, func(c telebot.Context) error {
		_ = c.Notify(telebot.Typing)
		return c.Send(b.tutor.Answer(ctx, c.Chat().ID, c.Text()))
	})

	b.api.Handle("/reset", func(c telebot.Context) error {
		return c.Send(b.tutor.Reset(ctx, c.Chat().ID))
	})

	b.api.Handle("/charge", func(c telebot.Context) error {
		return c.Send(b.tutor.Charge(ctx, c.Chat().ID))
	})

	b.log.Info("telegram bot started", zap.String("username", b.api.Me.Username))
	b.api.Start()
}

func (b *Bot) Stop() {
	b.api.Stop()
}
