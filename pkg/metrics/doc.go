// Package metrics exposes Prometheus counters for registry lookups.
// It tracks requests per registry host and status, host-fatal failures, label cache efficiency and lookups per operation.
package metrics
