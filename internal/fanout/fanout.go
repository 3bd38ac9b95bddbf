// Package fanout walks the recent notification backlog, renders each
// event once, matches it against destination subscriptions, and creates
// one delivery record per matching (event, destination) pair.
package fanout

import (
	"context"
	"fmt"
	"time"

	"pinger/internal/cache"
	"pinger/internal/metrics"
	"pinger/internal/render"
	"pinger/internal/storage"
	"pinger/internal/task/engine"
	logx "pinger/pkg/logx"
)

const lockOp = "fanout"

type Config struct {
	// DedupWindow bounds how far back the backlog scan reaches.
	// Default 96h.
	DedupWindow time.Duration
	// LockTTL caps how long a crashed pass can hold the single-flight
	// token. Default 5m.
	LockTTL time.Duration

	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 96 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "pinger"
	}
}

// ObserverResolver builds the character context a renderer needs.
type ObserverResolver interface {
	Observer(ctx context.Context, characterID, corporationID int64) (render.Observer, error)
}

// Deliverer enqueues one delivery job for a created record.
type Deliverer interface {
	EnqueueDelivery(recordID int64)
}

type Service struct {
	cfg      Config
	cache    cache.Cache
	store    storage.Store
	renderer *render.Renderer
	observer ObserverResolver
	deliver  Deliverer
	met      *metrics.Metrics
	log      logx.Logger

	now func() time.Time
}

func New(cfg Config, c cache.Cache, store storage.Store, renderer *render.Renderer, observer ObserverResolver, deliver Deliverer, met *metrics.Metrics, log logx.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		cache:    c,
		store:    store,
		renderer: renderer,
		observer: observer,
		deliver:  deliver,
		met:      met,
		log:      log.With(logx.String("component", "fanout")),
		now:      time.Now,
	}
}

// Job wraps ProcessPending for the task engine. Overlap gating plus
// the cache token keep passes single-flight even across processes.
func (s *Service) Job() engine.Job {
	return engine.Job{
		Name: "fanout.process",
		Opt:  engine.JobOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: engine.NoRetries},
		Run:  s.ProcessPending,
	}
}

// ProcessPending runs one fanout pass. Concurrent passes could create
// duplicate records before either updates the dedup set, so the pass
// claims a cache token first and simply skips when another holds it.
func (s *Service) ProcessPending(ctx context.Context) error {
	key := cache.LockKey(s.cfg.KeyPrefix, lockOp)
	ok, err := s.cache.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("fanout: lock: %w", err)
	}
	if !ok {
		s.log.Debug("pass already in flight, skipping")
		return nil
	}
	defer func() {
		if err := s.cache.Release(ctx, key); err != nil {
			s.log.Warn("lock release failed", logx.Err(err))
		}
	}()
	return s.processLocked(ctx)
}

func (s *Service) processLocked(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.DedupWindow)

	seen, err := s.store.PingedSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("fanout: dedup set: %w", err)
	}
	backlog, err := s.store.NotificationsSince(ctx, cutoff, render.Supported())
	if err != nil {
		return fmt.Errorf("fanout: backlog: %w", err)
	}

	// Render once per notification, grouped by category.
	type rendered struct {
		note storage.Notification
		msg  render.Message
		body string
	}
	byCategory := make(map[string][]rendered)
	for _, n := range backlog {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}

		obs, err := s.observer.Observer(ctx, n.CharacterID, n.CorporationID)
		if err != nil {
			s.log.Warn("observer resolve failed", logx.Int64("notification", n.ID), logx.Err(err))
			continue
		}
		msg, err := s.renderer.Render(ctx, n, obs)
		if err != nil {
			s.log.Warn("render failed", logx.Int64("notification", n.ID), logx.String("type", n.Type), logx.Err(err))
			continue
		}
		body, err := msg.Body()
		if err != nil {
			s.log.Warn("embed marshal failed", logx.Int64("notification", n.ID), logx.Err(err))
			continue
		}
		if s.met != nil {
			s.met.EventsRendered.WithLabelValues(n.Type).Inc()
		}
		byCategory[msg.Category] = append(byCategory[msg.Category], rendered{note: n, msg: msg, body: body})
	}
	if len(byCategory) == 0 {
		return nil
	}

	hooks, err := s.store.Webhooks(ctx)
	if err != nil {
		return fmt.Errorf("fanout: destinations: %w", err)
	}

	var created int
	for category, msgs := range byCategory {
		for _, hook := range hooks {
			if !subscribed(hook, category) {
				continue
			}
			for _, r := range msgs {
				if !Matches(r.msg, hook) {
					continue
				}
				id, err := s.store.CreatePing(ctx, storage.Ping{
					NotificationID: r.note.ID,
					WebhookID:      hook.ID,
					Body:           r.body,
					Alerting:       r.msg.Alerting,
					EventTime:      r.note.Timestamp,
				})
				if err != nil {
					s.log.Error("ping create failed",
						logx.Int64("notification", r.note.ID), logx.Int64("webhook", hook.ID), logx.Err(err))
					continue
				}
				if id == 0 {
					// Another pass within the dedup window already
					// created this pair.
					continue
				}
				created++
				if s.met != nil {
					s.met.PingsCreated.Inc()
				}
				if s.deliver != nil {
					s.deliver.EnqueueDelivery(id)
				}
			}
		}
	}
	if created > 0 {
		s.log.Info("fanout pass complete", logx.Int("pings", created))
	}
	return nil
}

func subscribed(hook storage.Webhook, category string) bool {
	for _, c := range hook.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Matches applies the three-way filter conjunction: each routing key on
// the message passes when the key is unset, the destination's allowlist
// is empty, or the key is a member. All three dimensions must pass.
func Matches(msg render.Message, hook storage.Webhook) bool {
	return keyMatches(msg.CorporationID, hook.Corporations) &&
		keyMatches(msg.AllianceID, hook.Alliances) &&
		keyMatches(msg.RegionID, hook.Regions)
}

func keyMatches(key int64, allow []int64) bool {
	if key == 0 || len(allow) == 0 {
		return true
	}
	for _, v := range allow {
		if v == key {
			return true
		}
	}
	return false
}
