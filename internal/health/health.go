// Package health serves the receptionist's liveness and readiness probes.
//
// Two endpoints are exposed:
//
//   - /healthz — liveness; a process that can answer HTTP is alive, so this
//     always returns 200 and never touches a dependency.
//   - /readyz  — readiness; returns 200 only while every registered
//     [Checker] passes. The deployment's load balancer uses this to keep
//     new calls away from an instance whose database or provider is down,
//     without tearing down calls already in flight.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map carrying each named probe's result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout caps one readiness probe. A hung database pool must fail the
// probe, not wedge the endpoint.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil while the dependency
// can serve a new call.
type Checker struct {
	// Name keys the probe's entry in the JSON response, e.g. "database".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is the slice of a storage backend the database probe needs.
// *postgres.Store implements it; the in-memory test store does not and is
// simply not probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns the standard database readiness probe over p.
func Database(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. Always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. It runs every checker and returns 503 with
// per-probe detail as soon as any of them reports a failure.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		if err := runCheck(r.Context(), c); err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// runCheck executes one probe under its own deadline, derived from the
// request context.
func runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
