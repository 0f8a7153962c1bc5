package incidents

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"incident-desk/config"
	"incident-desk/core/utils"
)

const defaultCleanupSchedule = "@every 10m"

// DraftSweeper periodically discards drafts nobody touched for too long.
type DraftSweeper struct {
	cfg    config.DraftsConfig
	svc    *Service
	logger *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewDraftSweeper(cfg config.DraftsConfig, svc *Service, logger *utils.Logger) *DraftSweeper {
	return &DraftSweeper{cfg: cfg, svc: svc, logger: logger}
}

func (s *DraftSweeper) StartWithContext(ctx context.Context) {
	if s == nil || s.svc == nil || !s.cfg.CleanupEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	schedule := s.cfg.CleanupSchedule
	if schedule == "" {
		schedule = defaultCleanupSchedule
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() { _ = s.RunOnce(runCtx, time.Now().UTC()) }); err != nil {
		cancel()
		s.logger.Errorf("draft sweeper: invalid schedule %q: %v", schedule, err)
		return
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
}

func (s *DraftSweeper) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	wasRunning := s.running
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DraftSweeper) RunOnce(ctx context.Context, now time.Time) error {
	if s == nil || s.svc == nil {
		return nil
	}
	if _, err := s.svc.SweepStaleDrafts(ctx, now); err != nil {
		s.logger.Errorf("draft sweeper: %v", err)
		return err
	}
	return nil
}
