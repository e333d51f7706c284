package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/app"
	"github.com/zhouzirui/socratic-spark/backend/internal/bot"
	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	"github.com/zhouzirui/socratic-spark/backend/internal/logger"
	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()
	zap.ReplaceGlobals(logg)

	lessons, err := app.NewLessonService(ctx, cfg, metrics.New(), logg)
	if err != nil {
		logg.Fatal("failed to initialize lesson service", zap.Error(err))
	}
	go lessons.Run(ctx, cfg.Lesson.SweepInterval, cfg.Lesson.IdleTTL)

	b, err := bot.NewBot(cfg.Bot, lessons, logg)
	if err != nil {
		logg.Fatal("failed to start telegram bot", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	b.Start(ctx)
	lessons.Shutdown()
}
