package lesson

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

// User-facing texts carried by error events.
const (
	startFailedText = "The tutor could not start this lesson. Please try again."
	replyFailedText = "The tutor could not answer. Please send your message again."
)

// Scorer rates a learner reply against the question it answers.
type Scorer interface {
	Score(ctx context.Context, userText, assistantText string) int
}

// Lesson owns the state of one learning conversation: transcript, typing
// flag, brain charge and the session generation that guards late scores.
type Lesson struct {
	id      string
	tutor   *tutor.Tutor
	scorer  Scorer
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	buffer  int

	mu         sync.Mutex
	concept    string
	session    *tutor.Session
	started    bool
	typing     bool
	charge     lesson.Charge
	generation uint64
	messages   []lesson.Message
	createdAt  time.Time
	updatedAt  time.Time
	closed     bool
	subs       map[int]chan lesson.Event
	nextSub    int

	scoring sync.WaitGroup
}

// New creates an idle lesson.
func New(id string, t *tutor.Tutor, scorer Scorer, opts ...Option) *Lesson {
	o := buildOptions(opts)
	now := o.now().UTC()
	return &Lesson{
		id:        id,
		tutor:     t,
		scorer:    scorer,
		log:       o.log.With(zap.String("component", "lesson"), zap.String("lesson_id", id)),
		metrics:   o.metrics,
		now:       o.now,
		buffer:    o.buffer,
		charge:    lesson.NewCharge(),
		createdAt: now,
		updatedAt: now,
		subs:      make(map[int]chan lesson.Event),
	}
}

// ID returns the lesson identifier.
func (l *Lesson) ID() string {
	return l.id
}

// Start opens a tutor session for concept and records the opening question.
// An empty tutor reply still starts the lesson with a default greeting; any
// other failure leaves the lesson as it was before the call.
func (l *Lesson) Start(ctx context.Context, concept string) (lesson.Message, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return lesson.Message{}, ErrConceptRequired
	}

	l.mu.Lock()
	switch {
	case l.started:
		l.mu.Unlock()
		return lesson.Message{}, ErrAlreadyStarted
	case l.typing:
		l.mu.Unlock()
		return lesson.Message{}, ErrBusy
	}
	l.generation++
	gen := l.generation
	l.setTypingLocked(true)
	l.mu.Unlock()

	session, reply, err := l.tutor.Start(ctx, concept)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != gen {
		l.log.Info("discarding opening reply of a reset lesson", zap.Uint64("generation", gen))
		return lesson.Message{}, ErrInterrupted
	}
	l.setTypingLocked(false)

	switch {
	case errors.Is(err, tutor.ErrEmptyReply) && session != nil:
		l.log.Warn("empty opening reply, using default greeting", zap.String("concept", concept))
		reply = ai.DefaultGreeting
	case err != nil:
		l.log.Error("failed to start lesson",
			zap.String("concept", concept),
			zap.Uint64("generation", gen),
			zap.Error(err))
		l.messages = nil
		l.emitLocked(lesson.Event{Type: lesson.EventError, Error: startFailedText})
		return lesson.Message{}, fmt.Errorf("start lesson: %w", err)
	}

	l.started = true
	l.concept = concept
	l.session = session
	msg := lesson.NewMessage(lesson.RoleAssistant, reply)
	l.messages = []lesson.Message{msg}
	l.touchLocked()

	l.emitLocked(lesson.Event{Type: lesson.EventStarted})
	l.emitLocked(lesson.Event{Type: lesson.EventMessage, Message: &msg})
	l.log.Info("lesson started", zap.String("concept", concept), zap.Uint64("generation", gen))
	return msg, nil
}

// Send records the learner's message, asks the tutor for the next question
// and, when an earlier question exists, scores the reply in the background.
func (l *Lesson) Send(ctx context.Context, text string) (lesson.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return lesson.Message{}, ErrMessageRequired
	}

	l.mu.Lock()
	switch {
	case !l.started:
		l.mu.Unlock()
		return lesson.Message{}, tutor.ErrNotInitialized
	case l.typing:
		l.mu.Unlock()
		return lesson.Message{}, ErrBusy
	}

	question, hasQuestion := lesson.LastAssistant(l.messages)
	userMsg := lesson.NewMessage(lesson.RoleUser, text)
	l.messages = append(l.messages, userMsg)
	l.touchLocked()
	l.emitLocked(lesson.Event{Type: lesson.EventMessage, Message: &userMsg})
	l.setTypingLocked(true)
	gen := l.generation
	session := l.session
	l.mu.Unlock()

	reply, err := session.Continue(ctx, text)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != gen {
		l.log.Info("discarding reply of a reset lesson", zap.Uint64("generation", gen))
		return lesson.Message{}, ErrInterrupted
	}
	l.setTypingLocked(false)

	if err != nil {
		l.log.Error("tutor call failed",
			zap.Uint64("generation", gen),
			zap.Error(err))
		l.emitLocked(lesson.Event{Type: lesson.EventError, Error: replyFailedText})
		return lesson.Message{}, err
	}

	if hasQuestion {
		l.scoreAsync(ctx, gen, text, question)
	}

	if strings.TrimSpace(reply) == "" {
		reply = ai.DefaultFollowUp
	}
	msg := lesson.NewMessage(lesson.RoleAssistant, reply)
	l.messages = append(l.messages, msg)
	l.touchLocked()
	l.emitLocked(lesson.Event{Type: lesson.EventMessage, Message: &msg})
	return msg, nil
}

// Reset discards the session and returns the lesson to its initial state.
// Scores still in flight for the old session are ignored when they land.
func (l *Lesson) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.generation++
	l.started = false
	l.typing = false
	l.concept = ""
	l.session = nil
	l.messages = nil
	l.charge = lesson.NewCharge()
	l.touchLocked()

	charge := l.charge.Int()
	l.emitLocked(lesson.Event{Type: lesson.EventReset, Charge: &charge})
	l.log.Info("lesson reset", zap.Uint64("generation", l.generation))
}

// Snapshot returns a copy of the current state.
func (l *Lesson) Snapshot() lesson.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	messages := make([]lesson.Message, len(l.messages))
	copy(messages, l.messages)

	return lesson.Snapshot{
		ID:         l.id,
		Concept:    l.concept,
		Started:    l.started,
		Typing:     l.typing,
		Charge:     l.charge.Int(),
		Generation: l.generation,
		Messages:   messages,
		CreatedAt:  l.createdAt,
		UpdatedAt:  l.updatedAt,
	}
}

// LastActive reports when the lesson last changed and whether a tutor call
// is in flight.
func (l *Lesson) LastActive() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updatedAt, l.typing
}

// Subscribe registers for lesson events. Slow subscribers miss events rather
// than block the lesson. The returned func unsubscribes and closes the channel.
func (l *Lesson) Subscribe() (<-chan lesson.Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan lesson.Event, l.buffer)
	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub)
			}
		})
	}
}

// Wait blocks until every background scoring call has finished.
func (l *Lesson) Wait() {
	l.scoring.Wait()
}

// Close ends every subscription and stops background scoring from being
// started. The lesson must not be used afterwards.
func (l *Lesson) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// scoreAsync must be called with l.mu held. A closed lesson starts no new
// scoring, so Wait after Close cannot race with Add.
func (l *Lesson) scoreAsync(ctx context.Context, gen uint64, userText, question string) {
	if l.scorer == nil || l.closed {
		return
	}
	l.scoring.Add(1)
	go func() {
		defer l.scoring.Done()
		score := l.scorer.Score(context.WithoutCancel(ctx), userText, question)
		l.applyScore(gen, score)
	}()
}

func (l *Lesson) applyScore(gen uint64, score int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation || !l.started {
		l.metrics.IncStaleScores()
		l.log.Debug("dropping stale score",
			zap.Uint64("score_generation", gen),
			zap.Uint64("generation", l.generation),
			zap.Int("score", score))
		return
	}

	l.charge = l.charge.Add(score)
	l.touchLocked()
	charge := l.charge.Int()
	l.emitLocked(lesson.Event{Type: lesson.EventCharge, Charge: &charge})
}

func (l *Lesson) setTypingLocked(typing bool) {
	l.typing = typing
	l.touchLocked()
	l.emitLocked(lesson.Event{Type: lesson.EventTyping, Typing: &typing})
}

func (l *Lesson) touchLocked() {
	l.updatedAt = l.now().UTC()
}

func (l *Lesson) emitLocked(ev lesson.Event) {
	if l.closed {
		return
	}
	ev.LessonID = l.id
	ev.Generation = l.generation
	ev.Timestamp = l.now().UTC()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
