package lesson

import (
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
)

const defaultEventBuffer = 32

type options struct {
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	buffer  int
}

// Option configures lessons and the registry.
type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEventBuffer sets the per-subscriber channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

func buildOptions(opts []Option) options {
	o := options{
		log:    zap.NewNop(),
		now:    time.Now,
		buffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer <= 0 {
		o.buffer = defaultEventBuffer
	}
	return o
}
