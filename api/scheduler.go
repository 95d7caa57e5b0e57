/*
scheduler.go - Periodic counter sweep

PURPOSE:
  Runs Reconciler.Sweep on a ticker so counter drift is repaired without
  an operator calling POST /admin/sweep.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Each run is bounded by SweepTimeout
  - Safe with several service instances: a sweep is one store transaction
    and re-running it on a consistent store changes nothing

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - enrollment/sweep.go: what a sweep repairs
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/enrollment-engine/enrollment"
)

// Sweeper runs one counter sweep. *enrollment.Reconciler satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (enrollment.SweepReport, error)
}

// SweepScheduler handles automated counter sweeps.
type SweepScheduler struct {
	Sweeper       Sweeper
	CheckInterval time.Duration
	SweepTimeout  time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	last enrollment.SweepReport
	runs int
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(sweeper Sweeper) *SweepScheduler {
	return &SweepScheduler{
		Sweeper:       sweeper,
		CheckInterval: 1 * time.Hour,
		SweepTimeout:  1 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.stop = make(chan bool)
	ss.wg.Add(1)

	go ss.run(ss.ticker, ss.stop)

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	ticker, stop := ss.ticker, ss.stop
	ss.ticker = nil
	ss.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

// LastReport returns the most recent successful report and the number of
// completed runs.
func (ss *SweepScheduler) LastReport() (enrollment.SweepReport, int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.last, ss.runs
}

func (ss *SweepScheduler) run(ticker *time.Ticker, stop chan bool) {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ticker.C:
			ss.sweep()
		case <-stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), ss.SweepTimeout)
	defer cancel()

	report, err := ss.Sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
		return
	}

	ss.mu.Lock()
	ss.last = report
	ss.runs++
	ss.mu.Unlock()

	if report.Repaired() {
		log.Printf("[Scheduler] Sweep %s repaired %d enrollments, %d classes, %d instructors",
			report.RunID, report.EnrollmentsRepaired, report.ClassesRepaired, report.InstructorsRepaired)
	}
}
