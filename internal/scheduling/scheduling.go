// Package scheduling runs periodic digest checks on a cron schedule and shuts
// them down gracefully.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// checkWaitTimeout bounds how long shutdown waits for a running check.
const checkWaitTimeout = 60 * time.Second

var errInvalidSchedule = errors.New("failed to schedule checks")

// NewLock returns a lock allowing a single check to run at a time.
func NewLock() chan bool {
	lock := make(chan bool, 1)
	lock <- true

	return lock
}

// WaitForRunningCheck waits for any currently running check to complete before proceeding with shutdown.
//
// Parameters:
//   - ctx: The context for cancellation, allowing early shutdown on context timeout.
//   - lock: The channel used to synchronize checks, ensuring only one runs at a time.
func WaitForRunningCheck(ctx context.Context, lock chan bool) {
	logrus.Debug("Checking lock status before shutdown.")

	if len(lock) == 0 {
		select {
		case <-lock:
			logrus.Debug("Lock acquired, check finished.")
		case <-time.After(checkWaitTimeout):
			logrus.Warn("Timeout waiting for running check to finish, proceeding with shutdown.")
		case <-ctx.Done():
			logrus.Warn("Context cancelled while waiting for running check.")
		}
	} else {
		logrus.Debug("No check running, lock available.")
	}
}

// RunOnSchedule runs check according to the cron specification until ctx is
// canceled or the process receives SIGINT or SIGTERM.
//
// Overlapping runs are skipped through lock; a nil lock creates a new one.
// When runOnStart is set the first check runs before the scheduler starts.
//
// Returns:
//   - error: An error if the cron spec is invalid, nil on shutdown.
func RunOnSchedule(
	ctx context.Context,
	scheduleSpec string,
	lock chan bool,
	runOnStart bool,
	check func(context.Context),
) error {
	if lock == nil {
		lock = NewLock()
	}

	scheduler := cron.New()

	runFunc := func() {
		select {
		case v := <-lock:
			defer func() { lock <- v }()

			check(ctx)
			logrus.Debug("Check completed")
		default:
			logrus.Debug("Skipped another check already running.")
		}

		if nextRuns := scheduler.Entries(); len(nextRuns) > 0 {
			logrus.Debug("Scheduled next run: " + nextRuns[0].Next.String())
		}
	}

	if scheduleSpec != "" {
		if err := scheduler.AddFunc(scheduleSpec, runFunc); err != nil {
			return fmt.Errorf("%w: %w", errInvalidSchedule, err)
		}
	}

	if entries := scheduler.Entries(); len(entries) > 0 {
		logrus.WithField("next_run", entries[0].Schedule.Next(time.Now())).Info("Scheduling first run")
	}

	if runOnStart {
		runFunc()
	}

	scheduler.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-ctx.Done():
		logrus.Debug("Context canceled, stopping scheduler...")
	case <-interrupt:
		logrus.Debug("Received interrupt signal, stopping scheduler...")
	}

	scheduler.Stop()
	logrus.Debug("Waiting for running check to be finished...")
	WaitForRunningCheck(ctx, lock)
	logrus.Debug("Scheduler stopped.")

	return nil
}
