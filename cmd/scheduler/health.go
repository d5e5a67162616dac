package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// startHealthServer serves a liveness probe on port, grounded on the
// the REST gateway's http.Server shutdown pattern (cmd/server/main.go
// startRESTGateway) but trimmed to the single /healthz route the control
// loop needs behind a load balancer.
func startHealthServer(ctx context.Context, port string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "health server failed", "error", err)
		}
	}()

	return server
}
