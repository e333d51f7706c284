package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
)

// Session is one ongoing conversation about a single concept. It is not safe
// for concurrent use; callers serialise Continue calls.
type Session struct {
	tutor   *Tutor
	concept string
	system  string
	history []*schema.Message
}

// Concept returns the concept the session was started with.
func (s *Session) Concept() string {
	if s == nil {
		return ""
	}
	return s.concept
}

// Continue sends the learner's reply and returns the tutor's next question.
// A failed call leaves the history untouched so the next call can resume.
func (s *Session) Continue(ctx context.Context, userText string) (string, error) {
	if s == nil || s.tutor == nil {
		return "", ErrNotInitialized
	}

	reply, err := s.send(ctx, "continue", userText)
	switch {
	case errors.Is(err, ErrEmptyReply):
		s.tutor.log.Warn("empty dialogue reply, using follow-up prompt", zap.String("concept", s.concept))
		s.record(userText, ai.DefaultFollowUp)
		return ai.DefaultFollowUp, nil
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrRemoteCall, err)
	}
	return reply, nil
}

// History returns a copy of the turns exchanged so far.
func (s *Session) History() []*schema.Message {
	if s == nil {
		return nil
	}
	out := make([]*schema.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) send(ctx context.Context, op, text string) (string, error) {
	t := s.tutor
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	input := map[string]any{
		"system":  s.system,
		"history": s.History(),
		"query":   text,
	}

	var opts []compose.Option
	if t.temperature > 0 {
		opts = append(opts, compose.WithChatModelOption(model.WithTemperature(t.temperature)))
	}

	started := time.Now()
	msg, err := t.chain.Invoke(ctx, input, opts...)
	t.metrics.ObserveRemoteCall("dialogue_"+op, started, err)
	if err != nil {
		t.log.Error("dialogue call failed",
			zap.String("op", op),
			zap.String("concept", s.concept),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return "", err
	}

	var content string
	if msg != nil {
		content = strings.TrimSpace(msg.Content)
	}
	if content == "" {
		return "", ErrEmptyReply
	}

	s.record(text, content)
	return content, nil
}

func (s *Session) record(userText, reply string) {
	s.history = append(s.history,
		schema.UserMessage(userText),
		schema.AssistantMessage(reply, nil),
	)
}
