package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/subscription_layer/internal/app/system"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) Report
}

// Scheduler triggers sweeps on a cron schedule. A slow sweep does not delay
// the next one; the store-level claims make overlap harmless.
type Scheduler struct {
	sweeper Sweeper
	spec    string
	timeout time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler validates spec (standard five-field or @descriptor).
func NewScheduler(sweeper Sweeper, spec string, timeout time.Duration, log *logger.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	if spec == "" {
		spec = "@hourly"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse lifecycle schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("lifecycle-scheduler")
	}
	return &Scheduler{sweeper: sweeper, spec: spec, timeout: timeout, log: log}, nil
}

func (s *Scheduler) Name() string { return "lifecycle-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() { s.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.spec).Info("lifecycle scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	done := c.Stop()
	cancel()

	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("lifecycle scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	report := s.sweeper.Sweep(sweepCtx)
	for _, msg := range report.Errors {
		s.log.WithField("error", msg).Warn("lifecycle sweep error")
	}
}
