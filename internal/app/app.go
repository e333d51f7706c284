// Package app assembles the lesson service from configuration. Both the HTTP
// server and the Telegram bot start from here.
package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/effort"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

// NewLessonService builds the chat model, the tutor and the scorer, each
// remote path behind its own circuit breaker, and returns the lesson registry.
func NewLessonService(ctx context.Context, cfg *config.Config, m *metrics.Collector, log *zap.Logger) (*lesson.Service, error) {
	chatModel, err := ai.NewChatModel(ctx, cfg.AI, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return Assemble(ctx, chatModel, cfg, m, log)
}

// Assemble wires an existing chat model into the lesson service.
func Assemble(ctx context.Context, chatModel model.BaseChatModel, cfg *config.Config, m *metrics.Collector, log *zap.Logger) (*lesson.Service, error) {
	dialogue := ai.Guard(chatModel, cfg.AI.Breaker, "dialogue", log)
	scoring := ai.Guard(chatModel, cfg.AI.Breaker, "scoring", log)

	t, err := tutor.New(ctx, dialogue,
		tutor.WithTemperature(cfg.AI.Temperature),
		tutor.WithTimeout(cfg.AI.Timeout),
		tutor.WithLogger(log),
		tutor.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tutor: %w", err)
	}

	limit := rate.Inf
	if cfg.Scoring.Rate > 0 {
		limit = rate.Limit(cfg.Scoring.Rate)
	}
	scorer, err := effort.New(ctx, scoring,
		effort.WithLimiter(rate.NewLimiter(limit, cfg.Scoring.Burst)),
		effort.WithTimeout(cfg.Scoring.Timeout),
		effort.WithLogger(log),
		effort.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create effort scorer: %w", err)
	}

	return lesson.NewService(t, scorer, lesson.WithLogger(log), lesson.WithMetrics(m)), nil
}
