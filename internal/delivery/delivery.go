// Package delivery posts rendered pings to Discord webhooks. Retries
// exist only for rate limiting: a 429 sets a shared per-destination
// cool-off and the job reschedules itself; any other failure status is
// final and left for operational follow-up.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pinger/internal/cache"
	"pinger/internal/metrics"
	"pinger/internal/storage"
	"pinger/internal/task/engine"
	logx "pinger/pkg/logx"
)

type Config struct {
	// Timeout bounds one webhook POST. Default 30s.
	Timeout time.Duration
	// RateMargin pads every server-supplied retry-after. Default 150ms.
	RateMargin time.Duration
	// SweepInterval spaces the recovery sweeps that re-enqueue unsent
	// pings, including those orphaned by a restart. Default 15m.
	SweepInterval time.Duration

	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateMargin <= 0 {
		c.RateMargin = 150 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "pinger"
	}
}

// Enqueuer is the slice of the task engine the worker needs for
// self-rescheduling.
type Enqueuer interface {
	Enqueue(job engine.Job) error
	EnqueueAfter(delay time.Duration, job engine.Job) error
}

type Service struct {
	cfg   Config
	cache cache.Cache
	store storage.Store
	eng   Enqueuer
	httpc *http.Client
	met   *metrics.Metrics
	log   logx.Logger

	cron *cron.Cron
	now  func() time.Time
}

func New(cfg Config, c cache.Cache, store storage.Store, eng Enqueuer, met *metrics.Metrics, log logx.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:   cfg,
		cache: c,
		store: store,
		eng:   eng,
		httpc: &http.Client{Timeout: cfg.Timeout},
		met:   met,
		log:   log.With(logx.String("component", "delivery")),
		now:   time.Now,
	}
}

// Start schedules the periodic recovery sweep and runs one sweep
// immediately so pings stranded by a previous shutdown go out without
// waiting a full interval.
func (s *Service) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.enqueueSweep() }); err != nil {
		return fmt.Errorf("delivery: sweep cron: %w", err)
	}
	s.cron.Start()
	s.enqueueSweep()
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Service) enqueueSweep() {
	err := s.eng.Enqueue(engine.Job{
		Name: "delivery.sweep",
		Opt:  engine.JobOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: engine.NoRetries},
		Run:  s.RecoverPending,
	})
	if err != nil && !errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Warn("sweep enqueue failed", logx.Err(err))
	}
}

// RecoverPending re-enqueues a delivery job for every unsent ping.
// Records already queued or running are skipped by the per-record
// overlap gate; one waiting out a cool-off timer gets an extra attempt
// that the cool-off check or the sent flag absorbs.
func (s *Service) RecoverPending(ctx context.Context) error {
	pending, err := s.store.UnsentPings(ctx)
	if err != nil {
		return fmt.Errorf("delivery: list unsent pings: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	s.log.Info("re-enqueueing unsent pings", logx.Int("count", len(pending)))
	for _, id := range pending {
		s.EnqueueDelivery(id)
	}
	return nil
}

// EnqueueDelivery schedules one delivery job for a ping record. A job
// for the same record already queued or running is left alone.
func (s *Service) EnqueueDelivery(recordID int64) {
	err := s.eng.Enqueue(s.job(recordID))
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("delivery already in flight", logx.Int64("ping", recordID))
	case err != nil:
		s.log.Warn("delivery enqueue failed", logx.Int64("ping", recordID), logx.Err(err))
	}
}

func (s *Service) job(recordID int64) engine.Job {
	return engine.Job{
		Name: fmt.Sprintf("delivery.ping.%d", recordID),
		// Single attempt per run: retries are driven by cool-off
		// rescheduling, not the engine's backoff.
		Opt: engine.JobOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: engine.NoRetries},
		Run: func(ctx context.Context) error {
			return s.Deliver(ctx, recordID)
		},
	}
}

// Deliver posts one ping. Idempotent: a record already marked sent is a
// success no-op.
func (s *Service) Deliver(ctx context.Context, recordID int64) error {
	ping, err := s.store.Ping(ctx, recordID)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("delivery: load ping %d: %w", recordID, err))
	}
	if ping.Sent {
		return nil
	}
	hook, err := s.webhook(ctx, ping.WebhookID)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("delivery: load webhook %d: %w", ping.WebhookID, err))
	}

	// A destination in cool-off defers the whole queue for that
	// destination, not just the ping that tripped the 429.
	if wait, active := s.cooloffRemaining(ctx, hook.ID); active {
		if s.met != nil {
			s.met.Deliveries.WithLabelValues(metrics.OutcomeDeferred).Inc()
		}
		s.log.Debug("destination cooling off",
			logx.Int64("ping", recordID), logx.Int64("webhook", hook.ID), logx.Duration("wait", wait))
		return s.reschedule(recordID, wait+s.cfg.RateMargin)
	}

	payload, err := composePayload(ping)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("delivery: compose ping %d: %w", recordID, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL+"?wait=true", bytes.NewReader(payload))
	if err != nil {
		return engine.NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		if s.met != nil {
			s.met.Deliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		return fmt.Errorf("delivery: post ping %d: %w", recordID, err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		if err := s.store.MarkPingSent(ctx, recordID, s.now()); err != nil {
			return fmt.Errorf("delivery: mark sent %d: %w", recordID, err)
		}
		if s.met != nil {
			s.met.Deliveries.WithLabelValues(metrics.OutcomeSent).Inc()
		}
		s.log.Debug("ping sent", logx.Int64("ping", recordID), logx.Int64("webhook", hook.ID))
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := s.retryAfter(body) + s.cfg.RateMargin
		if s.met != nil {
			s.met.Deliveries.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		}
		s.log.Warn("destination rate limited",
			logx.Int64("ping", recordID), logx.Int64("webhook", hook.ID), logx.Duration("retry_in", wait))
		s.setCooloff(ctx, hook.ID, wait)
		return s.reschedule(recordID, wait)

	default:
		if s.met != nil {
			s.met.Deliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		s.log.Error("ping delivery failed",
			logx.Int64("ping", recordID), logx.Int64("webhook", hook.ID),
			logx.Int("status", resp.StatusCode), logx.String("nickname", hook.Nickname))
		return engine.NoRetry(fmt.Errorf("delivery: ping %d to webhook %d: status %d", recordID, hook.ID, resp.StatusCode))
	}
}

func (s *Service) webhook(ctx context.Context, id int64) (storage.Webhook, error) {
	hooks, err := s.store.Webhooks(ctx)
	if err != nil {
		return storage.Webhook{}, err
	}
	for _, h := range hooks {
		if h.ID == id {
			return h, nil
		}
	}
	return storage.Webhook{}, storage.ErrNotFound
}

// composePayload wraps the stored embed, adding the attention mention
// for alerting pings.
func composePayload(ping storage.Ping) ([]byte, error) {
	var embed json.RawMessage
	if err := json.Unmarshal([]byte(ping.Body), &embed); err != nil {
		return nil, err
	}
	out := struct {
		Content string            `json:"content,omitempty"`
		Embeds  []json.RawMessage `json:"embeds"`
	}{
		Embeds: []json.RawMessage{embed},
	}
	if ping.Alerting {
		out.Content = "@here"
	}
	return json.Marshal(out)
}

// retryAfter parses the 429 body's millisecond retry hint. Discord has
// historically sent both numbers and numeric strings, so the field is
// kept raw and unquoted before parsing.
func (s *Service) retryAfter(body []byte) time.Duration {
	var parsed struct {
		RetryAfter json.RawMessage `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.RetryAfter) == 0 {
		s.log.Warn("unparseable rate limit body", logx.Err(err))
		return time.Second
	}
	raw := strings.Trim(string(parsed.RetryAfter), `"`)
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.log.Warn("unparseable retry_after", logx.String("value", raw), logx.Err(err))
		return time.Second
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Service) cooloffRemaining(ctx context.Context, webhookID int64) (time.Duration, bool) {
	raw, ok, err := s.cache.Get(ctx, cache.CooloffKey(s.cfg.KeyPrefix, webhookID))
	if err != nil {
		s.log.Warn("cooloff read failed", logx.Int64("webhook", webhookID), logx.Err(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	readyAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	wait := time.UnixMilli(readyAt).Sub(s.now())
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

func (s *Service) setCooloff(ctx context.Context, webhookID int64, wait time.Duration) {
	readyAt := s.now().Add(wait)
	key := cache.CooloffKey(s.cfg.KeyPrefix, webhookID)
	if err := s.cache.Set(ctx, key, strconv.FormatInt(readyAt.UnixMilli(), 10), wait); err != nil {
		s.log.Warn("cooloff write failed", logx.Int64("webhook", webhookID), logx.Err(err))
	}
}

func (s *Service) reschedule(recordID int64, delay time.Duration) error {
	if err := s.eng.EnqueueAfter(delay, s.job(recordID)); err != nil {
		return fmt.Errorf("delivery: reschedule ping %d: %w", recordID, err)
	}
	return nil
}
