// Package health reports whether the server can run conversations.
//
// Two endpoints back the deployment probes:
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only while every configured [Checker]
//     (generation reachability, connectivity, ...) passes.
//
// Both respond with JSON. Readiness carries a per-check breakdown, and both
// payloads include the number of live conversations when a session source is
// configured, so operators can tell a draining instance from an idle one.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil while the
// dependency can serve conversations.
type Checker struct {
	// Name keys the check's entry in the readiness payload.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Config configures a [Handler].
type Config struct {
	// Checks are evaluated on every readiness request, in order.
	Checks []Checker

	// Sessions reports the number of live conversations. Nil omits the
	// activeSessions field from the payloads.
	Sessions func() int64
}

// report is the JSON body of both endpoints. ActiveSessions is a pointer so
// an instance without a session source omits the field rather than claiming
// zero conversations.
type report struct {
	Status         string            `json:"status"`
	ActiveSessions *int64            `json:"activeSessions,omitempty"`
	Checks         map[string]string `json:"checks,omitempty"`
}

// Handler serves the liveness and readiness endpoints. Safe for concurrent
// use; configuration is fixed at construction time.
type Handler struct {
	checks   []Checker
	sessions func() int64
}

// New creates a [Handler] from cfg.
func New(cfg Config) *Handler {
	checks := make([]Checker, len(cfg.Checks))
	copy(checks, cfg.Checks)
	return &Handler{checks: checks, sessions: cfg.Sessions}
}

// Healthz is the liveness probe. It always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{
		Status:         "ok",
		ActiveSessions: h.sessionCount(),
	})
}

// Readyz is the readiness probe. It runs every check with a [checkTimeout]
// deadline derived from the request context and returns 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := report{
		Status:         "ok",
		ActiveSessions: h.sessionCount(),
		Checks:         make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) sessionCount() *int64 {
	if h.sessions == nil {
		return nil
	}
	n := h.sessions()
	return &n
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
