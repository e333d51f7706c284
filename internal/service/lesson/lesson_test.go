package lesson

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

const opening = "What do you already know about functions calling themselves?"

type scorerFunc func(ctx context.Context, userText, assistantText string) int

func (f scorerFunc) Score(ctx context.Context, userText, assistantText string) int {
	return f(ctx, userText, assistantText)
}

func fixedScore(n int) Scorer {
	return scorerFunc(func(context.Context, string, string) int { return n })
}

func newLesson(t *testing.T, fake *aitest.Model, scorer Scorer, opts ...Option) *Lesson {
	t.Helper()
	tu, err := tutor.New(context.Background(), fake)
	require.NoError(t, err)
	return New("lesson-1", tu, scorer, opts...)
}

func TestStartRecordsOpeningQuestion(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0))

	msg, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	assert.Equal(t, lesson.RoleAssistant, msg.Role)
	assert.Equal(t, opening, msg.Content)

	snap := l.Snapshot()
	assert.True(t, snap.Started)
	assert.False(t, snap.Typing)
	assert.Equal(t, "Recursion", snap.Concept)
	assert.Equal(t, lesson.InitialCharge, snap.Charge)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, opening, snap.Messages[0].Content)
}

func TestStartTwiceIsRejected(t *testing.T) {
	fake := aitest.Text(opening, "unused")
	l := newLesson(t, fake, fixedScore(0))

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	_, err = l.Start(context.Background(), "Entropy")
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 1, fake.CallCount())
	assert.Equal(t, "Recursion", l.Snapshot().Concept)
}

func TestStartBlankConcept(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0))

	_, err := l.Start(context.Background(), "  ")
	require.ErrorIs(t, err, ErrConceptRequired)
	assert.False(t, l.Snapshot().Started)
}

func TestStartFailureReverts(t *testing.T) {
	fake := aitest.New(aitest.Reply{Err: errors.New("quota exceeded")}, aitest.Reply{Content: opening})
	l := newLesson(t, fake, fixedScore(0))

	_, err := l.Start(context.Background(), "Recursion")
	require.ErrorIs(t, err, tutor.ErrSessionInit)

	snap := l.Snapshot()
	assert.False(t, snap.Started)
	assert.False(t, snap.Typing)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Concept)

	_, err = l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	assert.True(t, l.Snapshot().Started)
}

func TestStartEmptyReplyUsesGreeting(t *testing.T) {
	l := newLesson(t, aitest.Text(""), fixedScore(0))

	msg, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	assert.Equal(t, ai.DefaultGreeting, msg.Content)
	assert.True(t, l.Snapshot().Started)
}

func TestSendValidation(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0))

	_, err := l.Send(context.Background(), "hello")
	require.ErrorIs(t, err, tutor.ErrNotInitialized)

	_, err = l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	_, err = l.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrMessageRequired)
	assert.Len(t, l.Snapshot().Messages, 1)
}

func TestSendAlternatesAndScores(t *testing.T) {
	var (
		mu     sync.Mutex
		scored [][2]string
	)
	scorer := scorerFunc(func(_ context.Context, userText, assistantText string) int {
		mu.Lock()
		defer mu.Unlock()
		scored = append(scored, [2]string{userText, assistantText})
		return 14
	})
	l := newLesson(t, aitest.Text(opening, "What stops it?", "Why a base case?"), scorer)

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	reply, err := l.Send(context.Background(), "They call themselves")
	require.NoError(t, err)
	assert.Equal(t, "What stops it?", reply.Content)

	_, err = l.Send(context.Background(), "A base case")
	require.NoError(t, err)
	l.Wait()

	snap := l.Snapshot()
	require.Len(t, snap.Messages, 5)
	roles := make([]lesson.Role, len(snap.Messages))
	for i, m := range snap.Messages {
		roles[i] = m.Role
	}
	assert.Equal(t, []lesson.Role{
		lesson.RoleAssistant, lesson.RoleUser, lesson.RoleAssistant, lesson.RoleUser, lesson.RoleAssistant,
	}, roles)
	assert.Equal(t, "A base case", snap.Messages[3].Content)
	assert.Equal(t, "Why a base case?", snap.Messages[4].Content)

	assert.Equal(t, lesson.InitialCharge+28, snap.Charge)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, [][2]string{
		{"They call themselves", opening},
		{"A base case", "What stops it?"},
	}, scored)
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	fake := aitest.New(
		aitest.Reply{Content: opening},
		aitest.Reply{Err: errors.New("timeout")},
		aitest.Reply{Content: "Go on?"},
	)
	calls := 0
	var mu sync.Mutex
	scorer := scorerFunc(func(context.Context, string, string) int {
		mu.Lock()
		calls++
		mu.Unlock()
		return 3
	})
	l := newLesson(t, fake, scorer)

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	_, err = l.Send(context.Background(), "first attempt")
	require.ErrorIs(t, err, tutor.ErrRemoteCall)
	l.Wait()

	snap := l.Snapshot()
	assert.False(t, snap.Typing)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, lesson.RoleUser, snap.Messages[1].Role)
	assert.Equal(t, lesson.InitialCharge, snap.Charge)

	reply, err := l.Send(context.Background(), "second attempt")
	require.NoError(t, err)
	assert.Equal(t, "Go on?", reply.Content)
	l.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "failed turns are not scored")
}

func TestSendWhileTypingIsBusy(t *testing.T) {
	gate := make(chan struct{})
	fake := aitest.New(aitest.Reply{Content: opening}, aitest.Reply{Content: "Next?", Gate: gate})
	l := newLesson(t, fake, fixedScore(1))

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Send(context.Background(), "slow answer")
		done <- err
	}()

	require.Eventually(t, func() bool { return l.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	_, err = l.Send(context.Background(), "impatient")
	require.ErrorIs(t, err, ErrBusy)
	_, err = l.Start(context.Background(), "Other")
	require.ErrorIs(t, err, ErrAlreadyStarted)

	close(gate)
	require.NoError(t, <-done)
	l.Wait()
	assert.Len(t, l.Snapshot().Messages, 3)
}

func TestResetRestoresInitialState(t *testing.T) {
	l := newLesson(t, aitest.Text(opening, "Next?", opening), fixedScore(20))

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	_, err = l.Send(context.Background(), "answer")
	require.NoError(t, err)
	l.Wait()
	require.Equal(t, lesson.InitialCharge+20, l.Snapshot().Charge)

	before := l.Snapshot().Generation
	l.Reset()

	snap := l.Snapshot()
	assert.False(t, snap.Started)
	assert.False(t, snap.Typing)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Concept)
	assert.Equal(t, lesson.InitialCharge, snap.Charge)
	assert.Greater(t, snap.Generation, before)

	_, err = l.Send(context.Background(), "still there?")
	require.ErrorIs(t, err, tutor.ErrNotInitialized)

	_, err = l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
}

func TestStaleScoreIsDropped(t *testing.T) {
	release := make(chan struct{})
	scorer := scorerFunc(func(context.Context, string, string) int {
		<-release
		return 20
	})
	m := metrics.New()
	l := newLesson(t, aitest.Text(opening, "Next?", "Fresh start?"), scorer, WithMetrics(m))

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	_, err = l.Send(context.Background(), "answer")
	require.NoError(t, err)

	l.Reset()
	_, err = l.Start(context.Background(), "Entropy")
	require.NoError(t, err)

	close(release)
	l.Wait()

	assert.Equal(t, lesson.InitialCharge, l.Snapshot().Charge)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StaleScores))
}

func TestResetDuringSendDiscardsReply(t *testing.T) {
	gate := make(chan struct{})
	fake := aitest.New(aitest.Reply{Content: opening}, aitest.Reply{Content: "late", Gate: gate})
	l := newLesson(t, fake, fixedScore(5))

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Send(context.Background(), "answer")
		done <- err
	}()
	require.Eventually(t, func() bool { return l.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	l.Reset()
	close(gate)

	require.ErrorIs(t, <-done, ErrInterrupted)
	l.Wait()
	snap := l.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Equal(t, lesson.InitialCharge, snap.Charge)
}

func TestChargeClampedUnderConcurrentScores(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0))
	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)
	gen := l.Snapshot().Generation

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			l.applyScore(gen, score)
			c := l.Snapshot().Charge
			assert.GreaterOrEqual(t, c, 0)
			assert.LessOrEqual(t, c, lesson.MaxCharge)
		}(i % 21)
	}
	wg.Wait()

	assert.Equal(t, lesson.MaxCharge, l.Snapshot().Charge)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0))
	events, cancel := l.Subscribe()
	defer cancel()

	_, err := l.Start(context.Background(), "Recursion")
	require.NoError(t, err)

	var types []lesson.EventType
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, "lesson-1", ev.LessonID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []lesson.EventType{
		lesson.EventTyping, lesson.EventTyping, lesson.EventStarted, lesson.EventMessage,
	}, types)

	l.Close()
	_, ok := <-events
	assert.False(t, ok, "close ends subscriptions")
	cancel()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := newLesson(t, aitest.Text(opening), fixedScore(0), WithEventBuffer(1))
	_, cancel := l.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Start(context.Background(), "Recursion")
		l.Reset()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lesson blocked on a full subscriber")
	}
}
