package lesson

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

// Service keeps lessons in memory, keyed by id.
type Service struct {
	tutor  *tutor.Tutor
	scorer Scorer
	opts   []Option
	o      options

	mu      sync.RWMutex
	lessons map[string]*Lesson
	closed  bool
}

// NewService bootstraps the in-memory lesson registry. opts are applied to
// the registry and to every lesson it creates.
func NewService(t *tutor.Tutor, scorer Scorer, opts ...Option) *Service {
	o := buildOptions(opts)
	o.log = o.log.With(zap.String("component", "lesson_service"))
	return &Service{
		tutor:   t,
		scorer:  scorer,
		opts:    opts,
		o:       o,
		lessons: make(map[string]*Lesson),
	}
}

// Create provisions a lesson with a fresh id.
func (s *Service) Create(_ context.Context) (*Lesson, error) {
	l := New(uuid.NewString(), s.tutor, s.scorer, s.opts...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.lessons[l.ID()] = l
	n := len(s.lessons)
	s.mu.Unlock()

	s.o.metrics.SetActiveLessons(n)
	s.o.log.Debug("lesson created", zap.String("lesson_id", l.ID()))
	return l, nil
}

// Get retrieves a lesson by id.
func (s *Service) Get(_ context.Context, id string) (*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lessons[id]
	if !ok {
		return nil, ErrLessonNotFound
	}
	return l, nil
}

// Open returns the lesson stored under id, creating it when missing. Chat
// front ends use it to key lessons by their own conversation id.
func (s *Service) Open(ctx context.Context, id string) (*Lesson, error) {
	if l, err := s.Get(ctx, id); err == nil {
		return l, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	l, ok := s.lessons[id]
	if !ok {
		l = New(id, s.tutor, s.scorer, s.opts...)
		s.lessons[id] = l
	}
	n := len(s.lessons)
	s.mu.Unlock()

	s.o.metrics.SetActiveLessons(n)
	return l, nil
}

// Delete removes a lesson and closes its subscriptions.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	l, ok := s.lessons[id]
	if ok {
		delete(s.lessons, id)
	}
	n := len(s.lessons)
	s.mu.Unlock()

	if !ok {
		return ErrLessonNotFound
	}
	l.Close()
	s.o.metrics.SetActiveLessons(n)
	return nil
}

// Sweep evicts lessons untouched for longer than idle and returns how many
// were removed. Lessons waiting on the tutor are kept.
func (s *Service) Sweep(_ context.Context, idle time.Duration) int {
	cutoff := s.o.now().UTC().Add(-idle)

	s.mu.Lock()
	var evicted []*Lesson
	for id, l := range s.lessons {
		last, typing := l.LastActive()
		if typing || !last.Before(cutoff) {
			continue
		}
		delete(s.lessons, id)
		evicted = append(evicted, l)
	}
	n := len(s.lessons)
	s.mu.Unlock()

	for _, l := range evicted {
		l.Close()
	}
	if len(evicted) > 0 {
		s.o.metrics.SetActiveLessons(n)
		s.o.log.Info("evicted idle lessons", zap.Int("count", len(evicted)), zap.Int("remaining", n))
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, idle)
		}
	}
}

// Len reports how many lessons are held.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lessons)
}

// Shutdown stops accepting lessons, closes every held lesson and blocks
// until their background scoring has finished. Calls still in flight may
// complete, but they start no new scoring.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	lessons := make([]*Lesson, 0, len(s.lessons))
	for _, l := range s.lessons {
		lessons = append(lessons, l)
	}
	s.mu.Unlock()

	for _, l := range lessons {
		l.Close()
	}
	for _, l := range lessons {
		l.Wait()
	}
	s.o.log.Info("lesson service stopped", zap.Int("lessons", len(lessons)))
}
