/*
scheduler.go - Automated billing generation scheduler

PURPOSE:
  Periodically generates billing records for windows that have started,
  so payroll exports never depend on someone pressing the button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Targets the current month's started windows; during the first half of
    a month it also re-runs the previous month's second window, which
    picks up assignments entered after month end
  - Relies on generation being idempotent: re-running a window only
    produces duplicate skips

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewGenerationScheduler(handler.Orchestrator, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateBilling endpoint (manual generation)
  - billing/orchestrator.go: Orchestrator
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/generic"
)

const schedulerActor = "scheduler"

// GenerationScheduler handles automated billing generation.
type GenerationScheduler struct {
	Orchestrator  *billing.Orchestrator
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewGenerationScheduler creates a new scheduler.
func NewGenerationScheduler(orch *billing.Orchestrator, logger *zap.Logger) *GenerationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationScheduler{
		Orchestrator:  orch,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger,
		Now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (gs *GenerationScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.Logger.Info("scheduler disabled, not starting")
		return
	}

	if gs.ticker != nil {
		return
	}

	// Stop closes the channel, so every start needs a fresh one.
	gs.stop = make(chan bool)
	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.wg.Add(1)

	go gs.run(gs.ticker, gs.stop)

	gs.Logger.Info("scheduler started", zap.Duration("interval", gs.CheckInterval))
}

// Stop stops the scheduler.
func (gs *GenerationScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		gs.ticker = nil
		gs.Logger.Info("scheduler stopped")
	}
}

func (gs *GenerationScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer gs.wg.Done()

	// Run immediately on start
	gs.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			gs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// Due returns the generation requests for the given day.
func Due(today generic.TimePoint) []billing.Request {
	var reqs []billing.Request
	year, month := today.Year(), int(today.Month())

	if today.Day() <= 15 {
		prev := generic.StartOfMonth(year, today.Month()).AddDays(-1)
		reqs = append(reqs,
			billing.Request{Year: prev.Year(), Month: int(prev.Month()), Period: generic.SelectSecond, Actor: schedulerActor},
			billing.Request{Year: year, Month: month, Period: generic.SelectFirst, Actor: schedulerActor},
		)
		return reqs
	}
	return append(reqs, billing.Request{Year: year, Month: month, Period: generic.SelectBoth, Actor: schedulerActor})
}

// RunNow generates every due window and returns the reports.
func (gs *GenerationScheduler) RunNow(ctx context.Context) []*billing.Report {
	today := generic.DateOf(gs.Now())
	var reports []*billing.Report

	for _, req := range Due(today) {
		report, err := gs.Orchestrator.Generate(ctx, req)
		if err != nil {
			gs.Logger.Error("scheduled generation failed",
				zap.Int("year", req.Year),
				zap.Int("month", req.Month),
				zap.String("period", string(req.Period)),
				zap.Error(err))
			continue
		}
		if report.Created > 0 || report.Failed > 0 {
			gs.Logger.Info("scheduled generation completed",
				zap.Int("year", req.Year),
				zap.Int("month", req.Month),
				zap.String("period", string(req.Period)),
				zap.Int("created", report.Created),
				zap.Int("failed", report.Failed))
		}
		reports = append(reports, report)
	}
	return reports
}
