// Package logging writes the startup summary of the watch command.
// It reports the version, watched images, schedule and metrics endpoint.
package logging

import (
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/internal/util"
)

// scheduleLayout formats the next run in startup messages.
const scheduleLayout = "2006-01-02 15:04:05 -0700 MST"

// Startup describes the watch configuration to report.
type Startup struct {
	Version     string
	RegistryURL string
	Images      []string
	Schedule    string
	RunOnce     bool
	MetricsAddr string
	// Notifications names the notification services in use.
	Notifications []string
	// Warnings lists registries whose API consumption counts against a quota.
	Warnings []string
}

// WriteStartupMessage logs the startup summary to the standard logger.
func WriteStartupMessage(startup Startup) {
	log := logrus.NewEntry(logrus.StandardLogger())

	log.Info("regscout ", startup.Version)

	if startup.RegistryURL != "" {
		log.WithField("registry_url", startup.RegistryURL).Info("Using default registry override")
	}

	log.Info("Watching images: " + strings.Join(startup.Images, ", "))

	LogNotifierInfo(log, startup.Notifications)

	for _, registry := range startup.Warnings {
		log.WithField("registry", registry).
			Warn("Registry enforces API rate limits; frequent checks may exhaust the quota")
	}

	LogScheduleInfo(log, NextRun(startup.Schedule, time.Now()), startup.RunOnce)

	if startup.MetricsAddr != "" && !startup.RunOnce {
		log.WithField("addr", startup.MetricsAddr).Info("Metrics endpoint enabled")
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		log.Warn("Trace level enabled: log will include sensitive information as credentials and tokens")
	}
}

// LogNotifierInfo logs the notification services in use.
func LogNotifierInfo(log *logrus.Entry, names []string) {
	if len(names) == 0 {
		log.Info("Using no notifications")

		return
	}

	log.Info("Using notifications: " + strings.Join(names, ", "))
}

// NextRun returns the first activation of scheduleSpec after now, or the zero
// time when scheduleSpec is empty or invalid.
func NextRun(scheduleSpec string, now time.Time) time.Time {
	if scheduleSpec == "" {
		return time.Time{}
	}

	schedule, err := cron.Parse(scheduleSpec)
	if err != nil {
		return time.Time{}
	}

	return schedule.Next(now)
}

// LogScheduleInfo logs when the next check happens.
func LogScheduleInfo(log *logrus.Entry, next time.Time, runOnce bool) {
	switch {
	case runOnce:
		log.Info("Running a one time check.")
	case !next.IsZero():
		log.Info("Scheduling next run: " + next.Format(scheduleLayout))
		log.Info("Note that the next check will be performed in " + util.FormatDuration(time.Until(next)))
	default:
		log.Info("Periodic checks are enabled with default schedule.")
	}
}
