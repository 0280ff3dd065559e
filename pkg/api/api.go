package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// readHeaderTimeout is the timeout for reading request headers.
const readHeaderTimeout = 10 * time.Second

// shutdownTimeout is the timeout for graceful server shutdown.
const shutdownTimeout = 5 * time.Second

// HTTPServer is the subset of *http.Server used by RunHTTPServer.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// API is the HTTP server exposing regscout endpoints.
type API struct {
	Token      string // Bearer token required on every endpoint; empty disables authentication.
	Addr       string
	registered bool
	mux        *http.ServeMux
	server     HTTPServer // Optional injected server for testing.
}

// New creates an API listening on addr. The server parameter is optional and
// allows dependency injection for testing.
func New(token, addr string, server ...HTTPServer) *API {
	var injectedServer HTTPServer
	if len(server) > 0 {
		injectedServer = server[0]
	}

	logrus.WithField("addr", addr).Debug("Initialized new API instance")

	return &API{
		Token:  token,
		Addr:   addr,
		mux:    http.NewServeMux(),
		server: injectedServer,
	}
}

// RegisterHandler registers an HTTP handler for the given path.
func (a *API) RegisterHandler(path string, handler http.Handler) {
	if a.Token != "" {
		handler = a.requireToken(handler)
	}

	a.mux.Handle(path, handler)
	a.registered = true
}

// Handler returns the routing handler, for use with httptest.
func (a *API) Handler() http.Handler {
	return a.mux
}

// Start runs the server until ctx is canceled. It returns immediately when no
// handler has been registered.
func (a *API) Start(ctx context.Context) error {
	if !a.registered {
		logrus.Info("No handlers registered, skipping API start")

		return nil
	}

	server := a.server
	if server == nil {
		server = &http.Server{
			Addr:              a.Addr,
			Handler:           a.mux,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
		}
	}

	logrus.WithField("addr", a.Addr).Info("Starting HTTP API server")

	if err := RunHTTPServer(ctx, server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// requireToken wraps a handler with bearer token authentication.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != a.Token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// RunHTTPServer starts the HTTP server and handles graceful shutdown.
func RunHTTPServer(ctx context.Context, server HTTPServer) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		return nil
	}
}
