package ai

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
)

// ErrUnavailable wraps calls rejected while the breaker is open.
var ErrUnavailable = errors.New("model temporarily unavailable")

// GuardedModel trips after repeated remote failures so callers fail fast
// instead of piling up on a broken provider.
type GuardedModel struct {
	next model.BaseChatModel
	cb   *gobreaker.CircuitBreaker
}

var _ model.BaseChatModel = (*GuardedModel)(nil)

// Guard wraps next in a circuit breaker named name.
func Guard(next model.BaseChatModel, cfg config.BreakerConfig, name string, log *zap.Logger) *GuardedModel {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 0.6
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up is not the provider's fault
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &GuardedModel{next: next, cb: cb}
}

// Generate runs the wrapped Generate through the breaker.
func (g *GuardedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, input, opts...)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*schema.Message), nil
}

// Stream only guards establishing the stream; mid-stream errors reach the reader.
func (g *GuardedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Stream(ctx, input, opts...)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*schema.StreamReader[*schema.Message]), nil
}

// State reports the breaker state, e.g. for health output.
func (g *GuardedModel) State() string {
	return g.cb.State().String()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
