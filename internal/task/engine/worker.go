package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"pinger/internal/eventbus"
	logx "pinger/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedJob, idx int) {
	// Per-worker RNG avoids global lock contention on retry jitter.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj, ok := <-queue:
			if !ok {
				return
			}
			s.execOne(ctx, stopCh, qj, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qj queuedJob, rng *rand.Rand) {
	start := time.Now()
	queueDelay := start.Sub(qj.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	if qj.track {
		defer qj.state.release()
	}

	s.log.Debug("job started", logx.String("job", qj.job.Name), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.started", Time: start,
			Data: JobEvent{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay}})
	}

	var err error
	attempts := 0
	maxAttempts := 1 + qj.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		runCtx := ctx
		var cancel func()
		if qj.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, qj.timeout)
		}
		// A panicking job must not take the worker down with it.
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
					s.log.Error("job panicked", logx.String("job", qj.job.Name),
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			err = qj.job.Run(runCtx)
		}()
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(qj.opt, attempt, err, rng)
		if delay > 0 {
			s.log.Debug("job retry scheduled", logx.String("job", qj.job.Name),
				logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-stopCh:
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ErrStopped
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", qj.job.Name), logx.Err(err),
			logx.Duration("dur", dur), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "job.failed", Time: time.Now(),
				Data: JobEvent{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts, Error: err.Error()}})
		}
		return
	}
	s.log.Debug("job completed", logx.String("job", qj.job.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.finished", Time: time.Now(),
			Data: JobEvent{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}})
	}
}

// retryDelay honors an explicit retry-after hint, else exponential
// backoff with 20% jitter, both capped by RetryMaxDelay.
func retryDelay(opt JobOptions, attempt int, err error, rng *rand.Rand) time.Duration {
	d, ok := RetryDelay(err)
	if !ok {
		d = opt.RetryBase
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > opt.RetryMaxDelay {
				break
			}
		}
	}
	if rng != nil && d > 0 {
		jitter := (rng.Float64()*2 - 1) * 0.2
		d = time.Duration(float64(d) * (1 + jitter))
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
