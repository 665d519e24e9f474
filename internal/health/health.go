// Package health serves the liveness, readiness and breaker endpoints of the
// ops listener.
//
//   - GET  /healthz               liveness; always 200.
//   - GET  /readyz                readiness; 503 when a critical check fails.
//   - GET  /breakers              state of every circuit breaker.
//   - POST /breakers/{name}/reset force-closes one breaker.
//
// A non-critical check that fails marks the service "degraded" but keeps it
// ready: an open model breaker only turns off validation, the learning loop
// keeps running on heuristics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/wordwise/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Status values reported in the response body.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "store").
	Name string

	// Check returns nil when the dependency is healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional checks degrade the service instead of failing readiness.
	Optional bool
}

// Pinger is implemented by every learning store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck returns a critical [Checker] that pings the store.
func StoreCheck(p Pinger) Checker {
	return Checker{Name: "store", Check: p.Ping}
}

// BreakerCheck returns an optional [Checker] that fails while any breaker
// whose name starts with prefix is open. An empty prefix matches every
// breaker.
func BreakerCheck(reg *resilience.Registry, prefix string) Checker {
	return Checker{
		Name:     "breakers",
		Optional: true,
		Check: func(context.Context) error {
			var open []string
			for _, s := range reg.Snapshots() {
				if strings.HasPrefix(s.Name, prefix) && s.State == resilience.StateOpen {
					open = append(open, s.Name)
				}
			}
			if len(open) > 0 {
				return fmt.Errorf("open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health and breaker endpoints. The checker list is fixed
// at construction time.
type Handler struct {
	checkers []Checker
	breakers *resilience.Registry
}

// Option configures a [Handler].
type Option func(*Handler)

// WithBreakers enables the breaker endpoints.
func WithBreakers(reg *resilience.Registry) Option {
	return func(h *Handler) { h.breakers = reg }
}

// New creates a [Handler] that evaluates checkers in order on each /readyz
// request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		switch {
		case err == nil:
			res.Checks[c.Name] = StatusOK
		case c.Optional:
			res.Checks[c.Name] = StatusDegraded + ": " + err.Error()
			if res.Status == StatusOK {
				res.Status = StatusDegraded
			}
		default:
			res.Checks[c.Name] = StatusFail + ": " + err.Error()
			res.Status = StatusFail
		}
	}

	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Breakers lists every breaker sorted by name.
func (h *Handler) Breakers(w http.ResponseWriter, _ *http.Request) {
	snaps := h.breakers.Snapshots()
	if snaps == nil {
		snaps = []resilience.BreakerSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// ResetBreaker force-closes the breaker named in the path.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.breakers.Reset(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, resilience.ErrUnknownBreaker) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, result{Status: StatusFail, Checks: map[string]string{name: err.Error()}})
		return
	}
	b, _ := h.breakers.Lookup(name)
	writeJSON(w, http.StatusOK, b.Snapshot())
}

// Register adds the routes to mux. The breaker routes are only added when
// [WithBreakers] was given.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.breakers != nil {
		mux.HandleFunc("GET /breakers", h.Breakers)
		mux.HandleFunc("POST /breakers/{name}/reset", h.ResetBreaker)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
