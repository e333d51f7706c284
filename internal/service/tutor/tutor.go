package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
)

// DefaultTemperature matches the sampling temperature of the dialogue model.
const DefaultTemperature = 0.7

// Tutor builds Socratic dialogue sessions on top of a chat model. A Tutor is
// shared; each concept gets its own Session.
type Tutor struct {
	chain       compose.Runnable[map[string]any, *schema.Message]
	persona     ai.TutorPrompt
	temperature float32
	timeout     time.Duration
	log         *zap.Logger
	metrics     *metrics.Collector
}

// Option customises a Tutor.
type Option func(*Tutor)

// WithTemperature overrides the dialogue temperature; values <= 0 leave the model default.
func WithTemperature(t float64) Option {
	return func(tu *Tutor) { tu.temperature = float32(t) }
}

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) Option {
	return func(tu *Tutor) { tu.timeout = d }
}

// WithPersona swaps the tutor persona.
func WithPersona(p ai.TutorPrompt) Option {
	return func(tu *Tutor) { tu.persona = p }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(tu *Tutor) { tu.log = log }
}

// WithMetrics records remote call metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(tu *Tutor) { tu.metrics = m }
}

// New compiles the dialogue chain: system instruction, prior turns, new query.
func New(ctx context.Context, chatModel model.BaseChatModel, opts ...Option) (*Tutor, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	t := &Tutor{
		persona:     ai.SocraticTutor,
		temperature: DefaultTemperature,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(zap.String("component", "tutor"))

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile dialogue chain: %w", err)
	}
	t.chain = runnable

	return t, nil
}

// Start opens a conversation about concept and returns the tutor's first
// question.
//
// When the model answers with no text Start still returns a usable session
// together with an error matching both ErrSessionInit and ErrEmptyReply, so
// the caller can show a default greeting. Any other failure returns a nil
// session and an error matching ErrSessionInit.
func (t *Tutor) Start(ctx context.Context, concept string) (*Session, string, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return nil, "", ErrConceptRequired
	}

	s := &Session{
		tutor:   t,
		concept: concept,
		system:  t.persona.SystemInstruction(),
	}

	opening := t.persona.OpeningMessage(concept)
	reply, err := s.send(ctx, "start", opening)
	switch {
	case errors.Is(err, ErrEmptyReply):
		s.record(opening, ai.DefaultGreeting)
		return s, "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	case err != nil:
		return nil, "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}

	t.log.Debug("session started", zap.String("concept", concept), zap.Int("reply_len", len(reply)))
	return s, reply, nil
}
