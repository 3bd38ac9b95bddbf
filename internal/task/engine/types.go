package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the execution engine.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies when a job sets none.
	DefaultTimeout time.Duration

	// RetryMax bounds attempts for jobs that do not override it.
	RetryMax int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

// NoRetries marks a job as single-attempt: failures are final and the
// caller owns any rescheduling. A zero RetryMax means "engine default".
const NoRetries = -1

type JobOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (o JobOptions) withDefaults(cfg Config) JobOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	return o
}

// runState gates overlap per job name. Skip-if-running treats "queued"
// the same as "running" so a fast trigger cannot pile up work.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Job is one unit of work.
type Job struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     JobOptions
}

// JobEvent is emitted on the event bus for job lifecycle events.
type JobEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int
	Timers   int
	Dropped  uint64
}
