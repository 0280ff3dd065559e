package cmd

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/regscout/internal/api"
	"github.com/nicholas-fedor/regscout/internal/flags"
	"github.com/nicholas-fedor/regscout/internal/logging"
	"github.com/nicholas-fedor/regscout/internal/meta"
	"github.com/nicholas-fedor/regscout/internal/scheduling"
	"github.com/nicholas-fedor/regscout/internal/util"
	"github.com/nicholas-fedor/regscout/pkg/notifications"
	"github.com/nicholas-fedor/regscout/pkg/registry"
	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
)

// watchConfig holds the watch flags.
type watchConfig struct {
	schedule             string
	runOnce              bool
	metricsAddr          string
	metricsToken         string
	notificationURLs     []string
	notificationTemplate string
	notificationTitle    string
}

func newWatchCommand() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch IMAGE...",
		Short: "Watch images for digest changes",
		Long: `Watch images for digest changes.

Digests are re-resolved on the configured schedule and changes are logged.
A registry that fails fatally is skipped for the rest of the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWatch,
	}

	flags.RegisterWatchFlags(watchCmd)

	return watchCmd
}

func readWatchConfig(cmd *cobra.Command) watchConfig {
	f := cmd.Flags()

	schedule, _ := f.GetString("schedule")
	runOnce, _ := f.GetBool("run-once")
	metricsAddr, _ := f.GetString("metrics-addr")
	metricsToken, _ := f.GetString("metrics-token")
	notificationURLs, _ := f.GetStringArray("notification-url")
	notificationTemplate, _ := f.GetString("notification-template")
	notificationTitle, _ := f.GetString("notification-title")

	return watchConfig{
		schedule:             schedule,
		runOnce:              runOnce,
		metricsAddr:          metricsAddr,
		metricsToken:         metricsToken,
		notificationURLs:     notificationURLs,
		notificationTemplate: notificationTemplate,
		notificationTitle:    notificationTitle,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := newLookupEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	config := readWatchConfig(cmd)
	images := util.Unique(args)

	watcher, err := scheduling.NewWatcher(env.client, env.registryURL, images)
	if err != nil {
		return err
	}

	notifier, err := notifications.New(config.notificationURLs, config.notificationTemplate, config.notificationTitle)
	if err != nil {
		return err
	}

	check := func(ctx context.Context) scheduling.Report {
		report := watcher.Run(ctx)
		logReport(report)

		if err := notifier.NotifyChanges(report.Changed); err != nil {
			logrus.WithError(err).Warn("Digest change notification failed")
		}

		return report
	}

	logging.WriteStartupMessage(logging.Startup{
		Version:       meta.Version,
		RegistryURL:   env.registryURL,
		Images:        images,
		Schedule:      config.schedule,
		RunOnce:       config.runOnce,
		MetricsAddr:   config.metricsAddr,
		Notifications: notifier.GetNames(),
		Warnings:      rateLimitedRegistries(env, images),
	})

	if config.runOnce {
		report := check(cmd.Context())

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")

		return encoder.Encode(report)
	}

	serve := func(ctx context.Context) error {
		return api.SetupAndStartAPI(ctx, config.metricsAddr, config.metricsToken,
			prometheus.DefaultGatherer, watcher.Digests)
	}

	schedule := func(ctx context.Context) error {
		return scheduling.RunOnSchedule(ctx, config.schedule, scheduling.NewLock(), true, func(ctx context.Context) {
			check(ctx)
		})
	}

	return runWatchLoop(cmd.Context(), serve, schedule)
}

// runWatchLoop runs serve and schedule side by side. It returns when schedule
// stops or when serve fails, stopping the other one first. serve returning nil
// early (API disabled) leaves schedule running.
func runWatchLoop(ctx context.Context, serve, schedule func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiDone := make(chan error, 1)
	scheduleDone := make(chan error, 1)

	go func() { apiDone <- serve(ctx) }()
	go func() { scheduleDone <- schedule(ctx) }()

	for {
		select {
		case err := <-scheduleDone:
			cancel()

			if apiDone != nil {
				if apiErr := <-apiDone; err == nil {
					err = apiErr
				}
			}

			return err
		case err := <-apiDone:
			apiDone = nil

			if err != nil {
				logrus.WithError(err).Error("Metrics API failed, stopping watch")
				cancel()
				<-scheduleDone

				return err
			}
		}
	}
}

// rateLimitedRegistries returns the distinct registries of images that meter API usage.
func rateLimitedRegistries(env *lookupEnv, images []string) []string {
	var registries []string

	for _, image := range images {
		lookupName, _, err := helpers.SplitImageReference(image)
		if err != nil {
			continue
		}

		repo := env.client.Resolve(lookupName, env.registryURL)
		if registry.WarnOnAPIConsumption(repo.Registry) {
			registries = append(registries, repo.Registry)
		}
	}

	return util.Unique(registries)
}

func logReport(report scheduling.Report) {
	logrus.WithFields(logrus.Fields{
		"checked":    report.Checked,
		"changed":    len(report.Changed),
		"unresolved": len(report.Unresolved),
		"skipped":    len(report.Skipped),
	}).Info("Check finished")
}
