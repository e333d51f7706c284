// Package effort rates how much thinking a learner's reply shows.
package effort

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
)

// Score bounds and the value used whenever no usable score is available.
const (
	MinScore = 0
	MaxScore = 20
	Fallback = 5
)

// Scorer issues stateless scoring requests against a chat model.
type Scorer struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Collector
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithLimiter throttles scoring requests. Waiting honours the call context.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Scorer) { s.limiter = l }
}

// WithTimeout bounds each scoring call, including the limiter wait.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) { s.timeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Scorer) { s.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scorer) { s.metrics = m }
}

// New compiles the scoring chain.
func New(ctx context.Context, chatModel model.BaseChatModel, opts ...Option) (*Scorer, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	s := &Scorer{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "effort"))

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, schema.UserMessage(ai.ScorePrompt)))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile scoring chain: %w", err)
	}
	s.chain = runnable
	return s, nil
}

// Score rates userText as an answer to assistantText. It never fails: any
// remote, throttling or parsing problem yields Fallback.
func (s *Scorer) Score(ctx context.Context, userText, assistantText string) int {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.Warn("scoring throttled, using fallback", zap.Error(err))
			return s.fallback()
		}
	}

	started := time.Now()
	msg, err := s.chain.Invoke(ctx, map[string]any{
		"assistant_question": assistantText,
		"user_reply":         userText,
	})
	s.metrics.ObserveRemoteCall("score", started, err)
	if err != nil {
		s.log.Warn("scoring call failed, using fallback", zap.Error(err))
		return s.fallback()
	}

	var text string
	if msg != nil {
		text = msg.Content
	}
	score, ok := ParseScore(text)
	if !ok {
		s.log.Warn("unusable score, using fallback", zap.String("raw", truncate(text, 64)))
		return s.fallback()
	}

	s.metrics.ObserveScore(score, false)
	return score
}

func (s *Scorer) fallback() int {
	s.metrics.ObserveScore(Fallback, true)
	return Fallback
}

// ParseScore reads a leading integer the way a lenient parseInt would:
// surrounding whitespace is ignored, an optional sign is accepted and parsing
// stops at the first non-digit. The result is only usable inside
// [MinScore, MaxScore].
func ParseScore(text string) (int, bool) {
	text = strings.TrimSpace(text)

	end := 0
	if end < len(text) && (text[end] == '+' || text[end] == '-') {
		end++
	}
	digits := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}

	n, err := strconv.Atoi(text[:end])
	if err != nil || n < MinScore || n > MaxScore {
		return 0, false
	}
	return n, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
