// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("aitest: no scripted reply left")

// Reply is one scripted answer; Err wins over Content.
type Reply struct {
	Content string
	Err     error
	// Gate, when set, blocks the call until it is closed or ctx ends.
	Gate <-chan struct{}
}

// Model replays scripted replies in order and records every request.
type Model struct {
	mu       sync.Mutex
	replies  []Reply
	fallback *Reply
	calls    [][]*schema.Message
	options  []*model.Options
}

var _ model.BaseChatModel = (*Model)(nil)

// New returns a model that answers with replies in order.
func New(replies ...Reply) *Model {
	return &Model{replies: replies}
}

// Text is shorthand for a model answering each text once, in order.
func Text(texts ...string) *Model {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Content: t}
	}
	return New(replies...)
}

// Always makes the model answer r once the script runs out.
func (m *Model) Always(r Reply) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &r
	return m
}

// Push appends replies to the script.
func (m *Model) Push(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Generate returns the next scripted reply.
func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	reply, err := m.next(input, opts...)
	if err != nil {
		return nil, err
	}
	if reply.Gate != nil {
		select {
		case <-reply.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return schema.AssistantMessage(reply.Content, nil), nil
}

// Stream returns the next scripted reply as a single chunk.
func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *Model) next(input []*schema.Message, opts ...model.Option) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*schema.Message, len(input))
	copy(copied, input)
	m.calls = append(m.calls, copied)
	m.options = append(m.options, model.GetCommonOptions(&model.Options{}, opts...))

	if len(m.replies) == 0 {
		if m.fallback != nil {
			return *m.fallback, nil
		}
		return Reply{}, ErrExhausted
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

// Calls returns the inputs of every request so far.
func (m *Model) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// LastCall returns the input of the most recent request.
func (m *Model) LastCall() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// LastOptions returns the common options of the most recent request.
func (m *Model) LastOptions() *model.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return nil
	}
	return m.options[len(m.options)-1]
}

// CallCount reports how many requests were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
