// Package sched drives the polling rotation: one upstream refresh per
// corporation per turn, rotating over its eligible characters, with a
// cadence of window/len(characters) so larger rosters are covered at
// the same overall rate. A cron-driven bootstrap sweep restarts any
// corporation whose scheduling chain went quiet.
package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"pinger/internal/cache"
	"pinger/internal/metrics"
	"pinger/internal/storage"
	"pinger/internal/task/engine"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

type Config struct {
	// Window is the full-roster coverage interval and the schedule
	// state TTL. Default 10m.
	Window time.Duration
	// BootstrapInterval is the sweep cadence. Default 10m.
	BootstrapInterval time.Duration
	// StaleAfter marks a corporation's chain as dropped. It must
	// exceed Window so a state is declared stale only after its TTL
	// would have lapsed anyway.
	StaleAfter time.Duration
	// DedupWindow bounds storage retention for the prune job.
	DedupWindow time.Duration

	// KeyPrefix namespaces cache keys.
	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 10 * time.Minute
	}
	if c.BootstrapInterval <= 0 {
		c.BootstrapInterval = 10 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = c.Window + time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 96 * time.Hour
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "pinger"
	}
}

// ScheduleState is the per-corporation rotation bookmark. It lives in
// the cache with TTL = Window; expiry means the chain went quiet and
// the bootstrap sweep restarts it.
type ScheduleState struct {
	LastCharacterID int64     `json:"last_char"`
	HeadID          int64     `json:"head_id"`
	CharacterCount  int       `json:"char_count"`
	UpdatedAt       time.Time `json:"updated_at"`
	NextDueAt       time.Time `json:"next_due_at"`
}

// Roster is the slice of the upstream client the scheduler uses.
type Roster interface {
	Corporations(ctx context.Context) ([]upstream.Corporation, error)
	EligibleCharacters(ctx context.Context, corporationID int64) ([]upstream.Character, error)
	Notifications(ctx context.Context, ch upstream.Character) ([]storage.Notification, error)
}

// Enqueuer is the slice of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(job engine.Job) error
	EnqueueAfter(delay time.Duration, job engine.Job) error
}

type Service struct {
	cfg    Config
	cache  cache.Cache
	store  storage.Store
	roster Roster
	eng    Enqueuer
	met    *metrics.Metrics
	log    logx.Logger

	// onNewEvents fires after a turn observes a head id change,
	// normally the fanout trigger.
	onNewEvents func()

	cron *cron.Cron
	now  func() time.Time
}

func New(cfg Config, c cache.Cache, store storage.Store, roster Roster, eng Enqueuer, met *metrics.Metrics, log logx.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:    cfg,
		cache:  c,
		store:  store,
		roster: roster,
		eng:    eng,
		met:    met,
		log:    log.With(logx.String("component", "sched")),
		now:    time.Now,
	}
}

// OnNewEvents registers the callback fired when a refresh turn finds
// new notifications. Must be set before Start.
func (s *Service) OnNewEvents(fn func()) { s.onNewEvents = fn }

// Start runs an immediate bootstrap sweep and then repeats it on the
// configured cadence, with a daily retention prune alongside.
func (s *Service) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.BootstrapInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.Bootstrap(ctx) }); err != nil {
		return fmt.Errorf("sched: bootstrap cron: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 24h", func() { s.prune(ctx) }); err != nil {
		return fmt.Errorf("sched: prune cron: %w", err)
	}
	s.cron.Start()
	s.Bootstrap(ctx)
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Bootstrap enqueues a refresh for every corporation whose schedule
// state is absent or stale. It is the recovery path for dropped
// re-enqueues, so it must never fail hard.
func (s *Service) Bootstrap(ctx context.Context) {
	corps, err := s.roster.Corporations(ctx)
	if err != nil {
		s.log.Warn("bootstrap roster fetch failed", logx.Err(err))
		return
	}
	now := s.now()
	for _, corp := range corps {
		state, ok, err := s.readState(ctx, corp.ID)
		if err != nil {
			s.log.Warn("bootstrap state read failed", logx.Int64("corporation", corp.ID), logx.Err(err))
			continue
		}
		if ok && now.Sub(state.UpdatedAt) < s.cfg.StaleAfter {
			continue
		}
		s.enqueueRefresh(corp.ID, 0)
	}
}

func (s *Service) enqueueRefresh(corpID int64, delay time.Duration) {
	job := engine.Job{
		Name: fmt.Sprintf("sched.refresh.%d", corpID),
		Opt:  engine.JobOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: engine.NoRetries},
		Run: func(ctx context.Context) error {
			return s.RefreshOrganization(ctx, corpID)
		},
	}
	var err error
	if delay > 0 {
		err = s.eng.EnqueueAfter(delay, job)
	} else {
		err = s.eng.Enqueue(job)
	}
	if err != nil && !errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Warn("refresh enqueue failed", logx.Int64("corporation", corpID), logx.Err(err))
	}
}

// RefreshOrganization runs one rotation turn for a corporation: pick
// the character after the cursor, pull its feed, trigger fanout when
// the head id moved, then reschedule at window/len(roster). A failed
// turn is abandoned without rescheduling; the bootstrap sweep is the
// recovery path.
func (s *Service) RefreshOrganization(ctx context.Context, corpID int64) error {
	state, _, err := s.readState(ctx, corpID)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: state read: %w", err))
	}

	chars, err := s.roster.EligibleCharacters(ctx, corpID)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: roster fetch: %w", err))
	}
	if len(chars) == 0 {
		s.log.Debug("no eligible characters", logx.Int64("corporation", corpID))
		return nil
	}

	next := nextCharacter(chars, state.LastCharacterID)

	prevHead, err := s.store.HeadID(ctx, next.ID)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: head read: %w", err))
	}

	batch, err := s.roster.Notifications(ctx, next)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: refresh character %d: %w", next.ID, err))
	}
	inserted, err := s.store.InsertNotifications(ctx, batch)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: ingest: %w", err))
	}
	if s.met != nil {
		s.met.EventsIngested.Add(float64(inserted))
	}

	head, err := s.store.HeadID(ctx, next.ID)
	if err != nil {
		return s.fail(corpID, fmt.Errorf("sched: head re-read: %w", err))
	}
	if head != prevHead && s.onNewEvents != nil {
		s.onNewEvents()
	}

	delay := s.cfg.Window / time.Duration(len(chars))
	now := s.now()
	state = ScheduleState{
		LastCharacterID: next.ID,
		HeadID:          head,
		CharacterCount:  len(chars),
		UpdatedAt:       now,
		NextDueAt:       now.Add(delay),
	}
	if err := s.writeState(ctx, corpID, state); err != nil {
		return s.fail(corpID, fmt.Errorf("sched: state write: %w", err))
	}

	if s.met != nil {
		s.met.RefreshTurns.WithLabelValues(strconv.FormatInt(corpID, 10)).Inc()
	}
	s.log.Debug("turn complete",
		logx.Int64("corporation", corpID), logx.Int64("character", next.ID),
		logx.Int64("head", head), logx.Duration("next_in", delay), logx.Int("ingested", inserted))

	s.enqueueRefresh(corpID, delay)
	return nil
}

func (s *Service) fail(corpID int64, err error) error {
	if s.met != nil {
		s.met.RefreshFailures.WithLabelValues(strconv.FormatInt(corpID, 10)).Inc()
	}
	return err
}

// nextCharacter advances the cursor over the roster sorted by id. An
// unknown or unset cursor restarts at the first character.
func nextCharacter(chars []upstream.Character, lastID int64) upstream.Character {
	sorted := make([]upstream.Character, len(chars))
	copy(sorted, chars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, ch := range sorted {
		if ch.ID == lastID {
			return sorted[(i+1)%len(sorted)]
		}
	}
	return sorted[0]
}

func (s *Service) readState(ctx context.Context, corpID int64) (ScheduleState, bool, error) {
	raw, ok, err := s.cache.Get(ctx, cache.CorpKey(s.cfg.KeyPrefix, corpID))
	if err != nil || !ok {
		return ScheduleState{}, false, err
	}
	var state ScheduleState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// A corrupt bookmark is recoverable: rotate from the top.
		s.log.Warn("discarding corrupt schedule state", logx.Int64("corporation", corpID), logx.Err(err))
		return ScheduleState{}, false, nil
	}
	return state, true, nil
}

func (s *Service) writeState(ctx context.Context, corpID int64, state ScheduleState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cache.CorpKey(s.cfg.KeyPrefix, corpID), string(raw), s.cfg.Window)
}

// State exposes one corporation's bookmark for the status surface.
func (s *Service) State(ctx context.Context, corpID int64) (ScheduleState, bool, error) {
	return s.readState(ctx, corpID)
}

func (s *Service) prune(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.DedupWindow)
	if err := s.store.PruneBefore(ctx, cutoff); err != nil {
		s.log.Warn("retention prune failed", logx.Err(err))
	}
}
