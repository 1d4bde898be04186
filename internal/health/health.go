// Package health serves liveness and readiness probes for switchpilot.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz probes
// the switcher link, the audio level feed, and the event journal (see
// [DeviceChecker], [LevelFeedChecker], [JournalChecker]) and answers 200
// only when every probe passes. Bodies are JSON with a top-level "status"
// of "ok" or "fail" and a "checks" map naming each probe's outcome.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual readiness probe. A hung gateway or
// database must not hold the probe endpoint past it.
const probeTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and an error describing the failure otherwise. It must respect
// context cancellation.
type Checker struct {
	// Name keys this probe's outcome in the /readyz response
	// (e.g. "switcher", "journal").
	Name string

	Check func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. The checker set is
// fixed at construction; the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] probing the given checkers on each /readyz
// request. Probes run concurrently since they hit independent backends.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs every registered probe and returns 200 only if all pass.
// Each probe gets its own [probeTimeout] deadline derived from the request
// context, so one slow backend cannot starve the others of theirs.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := c.Check(probeCtx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			// Probe failures are reported in the body, not as group errors,
			// so one failing probe does not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	res := response{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
