package watchdog

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Default schedule: both watchdogs wait out a startup grace period so a
// fresh process never cancels requests before robots have re-registered.
const (
	StartupGraceDelay      = 30 * time.Second
	ArrivalTimeoutInterval = 10 * time.Second
	OrphanSweepInterval    = 5 * time.Minute
)

// Runner hosts the periodic background watchdogs on a shared gocron
// scheduler.
type Runner struct {
	scheduler gocron.Scheduler
}

// NewRunner creates an empty watchdog runner.
func NewRunner() (*Runner, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create watchdog scheduler: %w", err)
	}
	return &Runner{scheduler: scheduler}, nil
}

// Add registers a named periodic sweep with a delayed first run. Panics
// inside a sweep are contained so one bad cycle never kills the process.
func (r *Runner) Add(name string, interval, startDelay time.Duration, sweep func()) error {
	guarded := func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Watchdog %s: recovered from panic: %v", name, rec)
			}
		}()
		sweep()
	}

	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(guarded),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(startDelay))),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule watchdog %s: %w", name, err)
	}

	log.Printf("Watchdog %s scheduled every %v (first run in %v)", name, interval, startDelay)
	return nil
}

// Start begins running all registered watchdogs.
func (r *Runner) Start() {
	r.scheduler.Start()
}

// Stop shuts the scheduler down, letting an in-flight sweep finish its
// current item.
func (r *Runner) Stop() error {
	return r.scheduler.Shutdown()
}
