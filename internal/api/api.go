// Package api wires the watch command's HTTP endpoints onto the pkg/api server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/api"
	metricsAPI "github.com/nicholas-fedor/regscout/pkg/api/metrics"
)

// DigestsPath serves the last digest seen for every watched image.
const DigestsPath = "/v1/digests"

// DigestSnapshot returns the last known digest per image.
type DigestSnapshot func() map[string]string

// NewDigestsHandler serves snapshot as a JSON object.
func NewDigestsHandler(snapshot DigestSnapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			logrus.WithError(err).Debug("Failed to write digests response")
		}
	})
}

// SetupAndStartAPI serves the metrics and digest endpoints on addr until ctx is canceled.
//
// An empty addr disables the API. A non-empty token is required as a bearer token
// on every endpoint.
func SetupAndStartAPI(
	ctx context.Context,
	addr, token string,
	gatherer prometheus.Gatherer,
	snapshot DigestSnapshot,
	server ...api.HTTPServer,
) error {
	if addr == "" {
		return nil
	}

	httpAPI := api.New(token, addr, server...)

	metricsHandler := metricsAPI.New(gatherer)
	httpAPI.RegisterHandler(metricsHandler.Path, metricsHandler.Handle)

	if snapshot != nil {
		httpAPI.RegisterHandler(DigestsPath, NewDigestsHandler(snapshot))
	}

	if err := httpAPI.Start(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start API")

		return fmt.Errorf("failed to start HTTP API: %w", err)
	}

	return nil
}
