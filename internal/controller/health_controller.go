package controller

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type dependency struct {
	name   string
	pinger Pinger
}

type HealthController struct {
	deps []dependency
}

// NewHealthController checks the database and, when redis is non-nil, the
// Redis instance holding reversal locks and webhook deletion markers.
func NewHealthController(database, redis Pinger) *HealthController {
	h := &HealthController{deps: []dependency{{"database", database}}}
	if redis != nil {
		h.deps = append(h.deps, dependency{"redis", redis})
	}
	return h
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness pings every dependency in parallel. The first unavailable one
// in declaration order names the reason.
func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	errs := make([]error, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.pinger.Ping(ctx)
		}()
	}
	wg.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(h.deps))}
	for i, d := range h.deps {
		if errs[i] == nil {
			resp.Checks[d.name] = "ok"
			continue
		}
		resp.Checks[d.name] = "unavailable"
		if resp.Reason == "" {
			resp.Status = "not ready"
			resp.Reason = d.name + " unavailable"
		}
	}

	status := http.StatusOK
	if resp.Reason != "" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
