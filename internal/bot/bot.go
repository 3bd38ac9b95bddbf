// Package bot is the Telegram status surface. It answers /pinger_stats
// for the configured admins and never touches the polling pipeline
// itself: everything it shows comes from the cache bookmarks the
// scheduler already maintains.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"pinger/internal/sched"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

type Config struct {
	Token        string
	AdminUserIDs []int64
	// PollTimeout bounds each getUpdates long poll. Default 10s.
	PollTimeout time.Duration
}

// StatusSource is the read-only view the stats command renders.
type StatusSource interface {
	Corporations(ctx context.Context) ([]upstream.Corporation, error)
	State(ctx context.Context, corporationID int64) (sched.ScheduleState, bool, error)
}

type Service struct {
	cfg    Config
	status StatusSource
	log    logx.Logger
	now    func() time.Time

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool
}

func New(cfg Config, status StatusSource, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:    cfg,
		status: status,
		log:    log.With(logx.String("component", "bot")),
		now:    time.Now,
		bot:    b,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = true
	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.runWG.Add(1)
	s.runMu.Unlock()

	s.bot.Handle("/pinger_stats", func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || !s.isAdmin(sender.ID) {
			// Silence for strangers; the bot should not advertise itself.
			return nil
		}
		return s.handleStats(rctx, c)
	})

	go func() {
		defer s.runWG.Done()
		go func() {
			<-rctx.Done()
			s.bot.Stop()
		}()
		s.log.Info("polling started")
		s.bot.Start() // blocks until Stop
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go s.bot.Stop()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()

	// Do not let a lingering long poll hold up shutdown.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		s.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		s.log.Warn("telegram stop grace elapsed, continuing shutdown")
		return nil
	}
}

func (s *Service) isAdmin(userID int64) bool {
	for _, id := range s.cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Service) handleStats(ctx context.Context, c tele.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	corps, err := s.status.Corporations(ctx)
	if err != nil {
		s.log.Warn("stats roster fetch failed", logx.Err(err))
		return c.Send("roster unavailable: " + err.Error())
	}
	rows := make([]statsRow, 0, len(corps))
	for _, corp := range corps {
		state, ok, err := s.status.State(ctx, corp.ID)
		if err != nil {
			s.log.Warn("stats state read failed", logx.Int64("corporation", corp.ID), logx.Err(err))
			ok = false
		}
		rows = append(rows, statsRow{Corp: corp, State: state, Active: ok})
	}
	for _, chunk := range formatStats(rows, s.now()) {
		if err := c.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}
