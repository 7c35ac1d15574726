package services

import (
	"context"
	"time"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
)

// resetScheduler implements C12: periodic or manually-triggered re-apply of
// every active tunnel on a given core, grounded on core_health.py's
// reset-config CRUD + _reset_core loop.
type resetScheduler struct {
	cfgRepo    ports.CoreResetConfigRepository
	tunnelRepo ports.TunnelRepository
	orchestrator ports.TunnelService
	logger     *logger.Logger
	stop       chan struct{}
}

type ResetSchedulerConfig struct {
	ConfigRepo   ports.CoreResetConfigRepository
	TunnelRepo   ports.TunnelRepository
	Orchestrator ports.TunnelService
	Logger       *logger.Logger
}

var supportedCores = []string{"rathole", "backhaul", "chisel", "frp", "gost"}

func NewResetScheduler(cfg ResetSchedulerConfig) ports.ResetSchedulerService {
	return &resetScheduler{
		cfgRepo:      cfg.ConfigRepo,
		tunnelRepo:   cfg.TunnelRepo,
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
		stop:         make(chan struct{}),
	}
}

func (s *resetScheduler) GetConfig(ctx context.Context, core string) (*domain.CoreResetConfig, error) {
	if !isSupportedCore(core) {
		return nil, ErrUnknownCore
	}
	cfg, err := s.cfgRepo.GetByCore(ctx, core)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &domain.CoreResetConfig{Core: core, Enabled: false, IntervalMinutes: 10}
	}
	return cfg, nil
}

func (s *resetScheduler) GetAllConfigs(ctx context.Context) ([]domain.CoreResetConfig, error) {
	return s.cfgRepo.GetAll(ctx)
}

func (s *resetScheduler) SetConfig(ctx context.Context, core string, enabled bool, intervalMinutes int) (*domain.CoreResetConfig, error) {
	if !isSupportedCore(core) {
		return nil, ErrUnknownCore
	}
	cfg, err := s.cfgRepo.GetByCore(ctx, core)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &domain.CoreResetConfig{Core: core}
	}
	cfg.Enabled = enabled
	cfg.IntervalMinutes = intervalMinutes
	cfg.NextReset = nextResetTime(cfg)
	if err := s.cfgRepo.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func nextResetTime(cfg *domain.CoreResetConfig) *time.Time {
	if !cfg.Enabled {
		return nil
	}
	now := time.Now()
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if cfg.LastReset == nil {
		next := now.Add(interval)
		return &next
	}
	candidate := cfg.LastReset.Add(interval)
	if candidate.Before(now) {
		candidate = now.Add(interval)
	}
	return &candidate
}

func (s *resetScheduler) TriggerReset(ctx context.Context, core string) error {
	if !isSupportedCore(core) {
		return ErrUnknownCore
	}

	cfg, err := s.cfgRepo.GetByCore(ctx, core)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &domain.CoreResetConfig{Core: core, IntervalMinutes: 10}
	}
	now := time.Now()
	cfg.LastReset = &now
	cfg.NextReset = nextResetTime(cfg)
	if err := s.cfgRepo.Upsert(ctx, cfg); err != nil {
		return err
	}

	return s.resetCore(ctx, core)
}

// resetCore re-applies every active tunnel of the given core, logging and
// continuing past any single tunnel's failure rather than aborting the
// whole batch, per the original's per-tunnel try/except loop.
func (s *resetScheduler) resetCore(ctx context.Context, core string) error {
	tunnels, err := s.tunnelRepo.GetByCore(ctx, domain.Core(core))
	if err != nil {
		return err
	}
	for _, t := range tunnels {
		if t.Status != domain.TunnelStatusActive {
			continue
		}
		if _, err := s.orchestrator.UpdateTunnel(ctx, t.ID, t.Spec); err != nil {
			s.logger.Warnw("reset_core_tunnel_failed", "core", core, "tunnel_id", t.ID, "error", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}

// Run polls every configured core's schedule at the given interval until
// ctx is cancelled, triggering a reset when NextReset has passed.
func (s *resetScheduler) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *resetScheduler) pollOnce(ctx context.Context) {
	cfgs, err := s.cfgRepo.GetAll(ctx)
	if err != nil {
		s.logger.Warnw("reset_scheduler_poll_failed", "error", err)
		return
	}
	now := time.Now()
	for _, cfg := range cfgs {
		if !cfg.Enabled || cfg.NextReset == nil || cfg.NextReset.After(now) {
			continue
		}
		if err := s.TriggerReset(ctx, cfg.Core); err != nil {
			s.logger.Warnw("reset_scheduler_trigger_failed", "core", cfg.Core, "error", err)
		}
	}
}

func isSupportedCore(core string) bool {
	for _, c := range supportedCores {
		if c == core {
			return true
		}
	}
	return false
}
