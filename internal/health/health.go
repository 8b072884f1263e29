// Package health implements Kubernetes-style liveness and readiness probes
// for the diagnostics HTTP server.
//
// Healthz reports process liveness and always succeeds. Readyz runs the
// registered [Checker] functions (database connectivity, provider reachability)
// and fails when any of them does.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check should return quickly; it is
// called with a context that expires after checkTimeout.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is the subset of a connection pool used by [DatabaseChecker].
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker returns a [Checker] that pings the trade database.
func DatabaseChecker(p Pinger) Checker {
	return Checker{
		Name:  "database",
		Check: p.Ping,
	}
}

// Handler serves the health endpoints.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] with the given readiness checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: checkers}
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports liveness. It always returns 200 as long as the process can
// serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports readiness. Every registered checker runs with its own
// timeout; one failing check makes the whole endpoint return 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Status = "fail"
			res.Checks[c.Name] = fmt.Sprintf("fail: %v", err)
			code = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
