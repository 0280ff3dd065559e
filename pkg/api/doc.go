// Package api provides the HTTP server regscout uses to expose its endpoints.
//
// Key components:
//   - API: Manages server setup and endpoint registration, optionally behind a bearer token.
//   - RunHTTPServer: Serves until the context is canceled, then shuts down gracefully.
//   - metrics: The Prometheus metrics endpoint.
//
// Usage example:
//
//	server := api.New("", ":8080")
//	handler := metrics.New(prometheus.DefaultGatherer)
//	server.RegisterHandler(handler.Path, handler.Handle)
//	if err := server.Start(ctx); err != nil {
//	    logrus.WithError(err).Error("API start failed")
//	}
package api
