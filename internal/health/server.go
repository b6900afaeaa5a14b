// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package health exposes the worker's liveness endpoint. GET /health probes
// every registered dependency and answers 200 when all of them respond.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds each dependency probe.
const DefaultProbeTimeout = 3 * time.Second

// Check is a named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Response is the JSON body of /health.
type Response struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

// Handler serves /health for a fixed set of checks.
type Handler struct {
	checks  []Check
	timeout time.Duration
}

// NewHandler creates a health handler. Checks with a nil probe are ignored.
func NewHandler(timeout time.Duration, checks ...Check) *Handler {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	h := &Handler{timeout: timeout}
	for _, c := range checks {
		if c.Probe != nil {
			h.checks = append(h.checks, c)
		}
	}
	return h
}

// ServeHTTP runs all probes concurrently and reports the aggregate status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	failing := h.run(r.Context())

	resp := Response{Status: "healthy"}
	status := http.StatusOK
	if len(failing) > 0 {
		resp = Response{Status: "unhealthy", Failing: failing}
		status = http.StatusServiceUnavailable
		slog.Warn("health check failed", "failing", failing)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) run(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		failing = make(map[string]string)
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			if err := c.Probe(ctx); err != nil {
				mu.Lock()
				failing[c.Name] = err.Error()
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return failing
}

// Serve starts the health HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. The server stops when ctx is done.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.Handle("/health", handler)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind health port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("health server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("health server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	return ready, nil
}
