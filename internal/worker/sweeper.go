// Package worker runs the periodic upkeep that the request path leaves behind.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/phase"
	"election-service/internal/results"
	"election-service/pkg/logger"
)

// SweepReport summarises one pass
type SweepReport struct {
	Open      int
	Moved     int
	Expired   int64
	Refreshed int
	Failed    int
}

// Sweeper recomputes election phases on a ticker. Elections whose voting window
// has closed get their remaining voter access expired and their tally refreshed.
type Sweeper struct {
	phases      *phase.Engine
	eligibility *eligibility.Tracker
	results     *results.Engine
	interval    time.Duration
	log         *logger.Logger

	mutex      sync.RWMutex
	isRunning  bool
	stopChan   chan struct{}
	done       chan struct{}
	onComplete func(SweepReport)
}

func NewSweeper(phases *phase.Engine, tracker *eligibility.Tracker, res *results.Engine, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		phases:      phases,
		eligibility: tracker,
		results:     res,
		interval:    interval,
		log:         log.WithComponent("sweeper"),
	}
}

// OnComplete registers a callback run after every pass
func (s *Sweeper) OnComplete(fn func(SweepReport)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onComplete = fn
}

// Start begins the sweep loop. ctx bounds every pass; Stop ends the loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("sweeper is already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stopChan, s.done)

	s.log.Info("Sweeper started", "interval", s.interval.String())
	return nil
}

// Stop ends the loop and waits for a running pass to finish
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mutex.Unlock()

	<-done
	s.log.Info("Sweeper stopped")
}

// IsRunning returns whether the loop is active
func (s *Sweeper) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isRunning
}

func (s *Sweeper) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := s.SweepNow(ctx)
			if err != nil {
				s.log.WithError(err).Error("Sweep failed")
			}
			s.mutex.RLock()
			cb := s.onComplete
			s.mutex.RUnlock()
			if cb != nil {
				cb(report)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepNow performs one pass immediately. A failing election is logged and skipped.
func (s *Sweeper) SweepNow(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := time.Now()

	open, moved, err := s.phases.Sweep(ctx)
	if err != nil {
		return report, err
	}
	report.Open, report.Moved = len(open), moved

	for i := range open {
		e := &open[i]
		if e.CurrentPhase != domain.PhaseResults {
			continue
		}
		n, err := s.eligibility.ExpireElection(ctx, e.ID)
		if err != nil {
			report.Failed++
			s.log.WithError(err).Warning("Expiring voter access failed", "election_id", e.ID)
			continue
		}
		report.Expired += n
		if _, err := s.results.Calculate(ctx, e.ID); err != nil {
			report.Failed++
			s.log.WithError(err).Warning("Refreshing results failed", "election_id", e.ID)
			continue
		}
		report.Refreshed++
	}

	s.log.PerformanceLogger("worker.sweep", time.Since(start), report.Failed == 0)
	if report.Moved > 0 || report.Expired > 0 {
		s.log.Info("Sweep completed", "open", report.Open, "moved", report.Moved, "expired", report.Expired)
	}
	return report, nil
}
