package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinger/internal/eventbus"
	logx "pinger/pkg/logx"
)

// Service runs jobs on a fixed worker pool fed by a bounded queue.
// Enqueue never blocks: a full queue drops the job with ErrQueueFull
// and the caller decides whether that matters.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q      chan queuedJob
	stopCh chan struct{}
	wg     sync.WaitGroup

	stateMu sync.Mutex
	states  map[string]*runState

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	dropped uint64
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	timeout    time.Duration
	opt        JobOptions

	state *runState
	track bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("component", "engine")),
		bus:    bus,
		states: make(map[string]*runState),
		timers: make(map[string]*time.Timer),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.q = make(chan queuedJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	queue := s.q
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func(idx int) {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue, idx)
		}(i)
	}
	s.log.Info("engine started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	s.timerMu.Lock()
	for id, tmr := range s.timers {
		tmr.Stop()
		delete(s.timers, id)
	}
	s.timerMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("engine stop timed out waiting for workers")
	}
}

// Enqueue submits a job for execution. Jobs with OverlapSkipIfRunning
// are dropped with ErrOverlapSkip while a prior run of the same name is
// queued or executing.
func (s *Service) Enqueue(job Job) error {
	s.mu.Lock()
	queue := s.q
	stopCh := s.stopCh
	cfg := s.cfg
	s.mu.Unlock()
	if queue == nil || stopCh == nil {
		return ErrStopped
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	opt := job.Opt.withDefaults(cfg)
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	qj := queuedJob{job: job, enqueuedAt: time.Now(), timeout: timeout, opt: opt}
	if opt.Overlap == OverlapSkipIfRunning {
		st := s.state(job.Name)
		if !st.tryAcquire() {
			return ErrOverlapSkip
		}
		qj.state = st
		qj.track = true
	}

	select {
	case queue <- qj:
		return nil
	default:
		if qj.track {
			qj.state.release()
		}
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn("queue full, job dropped", logx.String("job", job.Name))
		return ErrQueueFull
	}
}

// EnqueueAfter schedules a job to enter the queue after delay. The
// timer is cancelled on Stop; a job already due runs immediately.
func (s *Service) EnqueueAfter(delay time.Duration, job Job) error {
	if delay <= 0 {
		return s.Enqueue(job)
	}
	s.mu.Lock()
	stopped := s.stopCh == nil
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	id := job.ID

	s.timerMu.Lock()
	if prev, ok := s.timers[id]; ok {
		prev.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, id)
		s.timerMu.Unlock()
		if err := s.Enqueue(job); err != nil {
			s.log.Warn("deferred job not enqueued", logx.String("job", job.Name), logx.Err(err))
		}
	})
	s.timerMu.Unlock()
	return nil
}

func (s *Service) state(name string) *runState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &runState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Workers: s.cfg.Workers, Dropped: s.dropped}
	if s.q != nil {
		snap.QueueLen = len(s.q)
		snap.QueueCap = cap(s.q)
	}
	s.mu.Unlock()

	s.timerMu.Lock()
	snap.Timers = len(s.timers)
	s.timerMu.Unlock()
	return snap
}
