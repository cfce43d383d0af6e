// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness check; always returns 200 OK.
//   - /readyz: readiness check; returns 200 only when all registered
//     [Checker] functions pass (for spellcast: a catalogue is loaded and the
//     default recognizer is initialised).
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map holding each named checker's status, error and latency.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "catalogue",
	// "recognizer"). It appears as a key in the JSON response.
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Ready returns a [Checker] that passes while ready reports true and fails
// with reason otherwise. Use it for in-process state such as "catalogue
// loaded".
func Ready(name string, ready func() bool, reason string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ready() {
				return errors.New(reason)
			}
			return nil
		},
	}
}

// Status values reported by the health endpoints.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// CheckResult is the outcome of one [Checker] in a /readyz response.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Result is the JSON response body for health endpoints.
type Result struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. Checkers run concurrently.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness check that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Result{Status: StatusOK})
}

// Readyz is a readiness check that returns 200 only when every registered
// [Checker] passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Check(r.Context())
	status := http.StatusOK
	if res.Status != StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Check runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from ctx, and aggregates their outcomes.
func (h *Handler) Check(ctx context.Context) Result {
	var mu sync.Mutex
	res := Result{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			start := time.Now()
			err := c.Check(cctx)
			cancel()

			cr := CheckResult{Status: StatusOK, Latency: time.Since(start).String()}
			if err != nil {
				cr.Status = StatusFail
				cr.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			res.Checks[c.Name] = cr
			if err != nil {
				res.Status = StatusFail
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
