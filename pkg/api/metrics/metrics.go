// Package metrics serves the Prometheus metrics of regscout.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Path is where the metrics endpoint is mounted.
const Path = "/v1/metrics"

// Handler is an HTTP handle for serving metric data.
type Handler struct {
	Path   string
	Handle http.Handler
}

// New creates a Handler exposing everything gathered by gatherer.
func New(gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		Path:   Path,
		Handle: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}
