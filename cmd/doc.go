// Package cmd contains the command-line interface definitions and execution logic for regscout.
//
// Key components:
//   - digest, config-digest, labels, tags: One-shot registry lookups printed to stdout.
//   - check: Compares a known digest with the registry's current one.
//   - watch: Re-resolves digests on a cron schedule and serves Prometheus metrics.
//
// Usage examples:
//   - Run the CLI from main.go:
//     cmd.Execute()
//   - Print the labels of an image:
//     regscout labels ghcr.io/home-assistant/home-assistant:stable
//
// The package wires flags, hostrules, transport, cache and registry together,
// using Cobra for CLI parsing and logrus for logging.
package cmd
