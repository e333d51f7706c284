package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	lessonModel "github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

const (
	usageText     = "Send /start <concept> to begin a lesson, for example: /start Recursion"
	resetText     = "Lesson reset. Send /start <concept> to explore something new."
	busyText      = "Still thinking about your last answer..."
	slowDownText  = "Slow down a little, one message at a time."
	startFailText = "I could not start that lesson. Please try /start again."
	replyFailText = "I could not answer just now. Please send your message again."
)

// Notifier delivers unsolicited messages, such as charge updates, to a chat.
type Notifier func(chatID int64, text string)

// Tutor maps chat commands onto lessons, one lesson per chat.
type Tutor struct {
	lessons *lessonService.Service
	notify  Notifier
	log     *zap.Logger
	every   time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	watched  map[*lessonService.Lesson]bool
}

// NewTutor creates the chat front end. perMessage is the minimum spacing of
// messages accepted from one chat; zero disables throttling.
func NewTutor(lessons *lessonService.Service, notify Notifier, perMessage time.Duration, log *zap.Logger) *Tutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tutor{
		lessons:  lessons,
		notify:   notify,
		log:      log.With(zap.String("component", "bot")),
		every:    perMessage,
		limiters: make(map[int64]*rate.Limiter),
		watched:  make(map[*lessonService.Lesson]bool),
	}
}

// LessonID is the lesson key of a chat.
func LessonID(chatID int64) string {
	return "tg-" + strconv.FormatInt(chatID, 10)
}

// Start begins a new lesson about concept, discarding any previous one.
func (t *Tutor) Start(ctx context.Context, chatID int64, concept string) string {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return usageText
	}

	l, err := t.open(ctx, chatID)
	if err != nil {
		return startFailText
	}
	l.Reset()

	msg, err := l.Start(ctx, concept)
	if err != nil {
		t.log.Warn("telegram lesson start failed", zap.Int64("chat_id", chatID), zap.Error(err))
		if errors.Is(err, lessonService.ErrBusy) {
			return busyText
		}
		return startFailText
	}
	return msg.Content
}

// Answer forwards a learner reply and returns the tutor's next question.
func (t *Tutor) Answer(ctx context.Context, chatID int64, text string) string {
	if !t.allow(chatID) {
		return slowDownText
	}

	l, err := t.open(ctx, chatID)
	if err != nil {
		return replyFailText
	}

	msg, err := l.Send(ctx, text)
	switch {
	case err == nil:
		return msg.Content
	case errors.Is(err, tutor.ErrNotInitialized), errors.Is(err, lessonService.ErrMessageRequired):
		return usageText
	case errors.Is(err, lessonService.ErrBusy):
		return busyText
	default:
		t.log.Warn("telegram lesson reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return replyFailText
	}
}

// Reset clears the chat's lesson.
func (t *Tutor) Reset(ctx context.Context, chatID int64) string {
	if l, err := t.lessons.Get(ctx, LessonID(chatID)); err == nil {
		l.Reset()
	}
	return resetText
}

// Charge renders the chat's brain charge meter.
func (t *Tutor) Charge(ctx context.Context, chatID int64) string {
	charge := lessonModel.InitialCharge
	if l, err := t.lessons.Get(ctx, LessonID(chatID)); err == nil {
		charge = l.Snapshot().Charge
	}
	return ChargeBar(charge)
}

// ChargeBar draws the meter as ten cells plus the percentage, followed by
// the caption of the charge tier.
func ChargeBar(charge int) string {
	if charge < 0 {
		charge = 0
	}
	if charge > lessonModel.MaxCharge {
		charge = lessonModel.MaxCharge
	}
	filled := charge / 10
	return fmt.Sprintf("Brain charge [%s%s] %d%%\n%s",
		strings.Repeat("█", filled), strings.Repeat("░", 10-filled), charge, chargeCaption(charge))
}

func chargeCaption(charge int) string {
	switch {
	case charge < 30:
		return "Warm up your neurons..."
	case charge < 60:
		return "Deep processing initiated..."
	case charge < 90:
		return "High frequency thinking detected!"
	default:
		return "Maximum brain capacity approaching!"
	}
}

func (t *Tutor) open(ctx context.Context, chatID int64) (*lessonService.Lesson, error) {
	l, err := t.lessons.Open(ctx, LessonID(chatID))
	if err != nil {
		return nil, err
	}
	t.watch(chatID, l)
	return l, nil
}

// watch forwards charge updates of the chat's lesson through the notifier.
// Watchers are keyed by lesson so a chat re-opened after eviction is watched
// even while the old watcher is still draining.
func (t *Tutor) watch(chatID int64, l *lessonService.Lesson) {
	if t.notify == nil {
		return
	}
	t.mu.Lock()
	if t.watched[l] {
		t.mu.Unlock()
		return
	}
	t.watched[l] = true
	t.mu.Unlock()

	events, _ := l.Subscribe()
	go func() {
		defer func() {
			t.mu.Lock()
			delete(t.watched, l)
			t.mu.Unlock()
		}()
		for ev := range events {
			if ev.Type == lessonModel.EventCharge && ev.Charge != nil {
				t.notify(chatID, ChargeBar(*ev.Charge))
			}
		}
	}()
}

func (t *Tutor) allow(chatID int64) bool {
	if t.every <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[chatID] = limiter
	}
	return limiter.Allow()
}
