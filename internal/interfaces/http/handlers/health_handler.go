package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	readinessTimeout = 5 * time.Second
	detailTimeout    = 10 * time.Second
)

// HealthChecker checks one external dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthObserver receives every check result; the Prometheus health gauge
// implements it.
type HealthObserver interface {
	SetHealth(component string, up bool)
}

// HealthHandler serves the liveness, readiness and detail endpoints.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	observer HealthObserver
	features map[string]bool
}

// NewHealthHandler returns a handler probing checkers on readiness.
func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
	}
}

// WithObserver attaches a check-result sink. nil is ignored.
func (h *HealthHandler) WithObserver(o HealthObserver) *HealthHandler {
	if o != nil {
		h.observer = o
	}
	return h
}

// WithFeatures records which optional pipeline stages are wired (OCR, LLM
// parsing, events). They are reported by Detailed only.
func (h *HealthHandler) WithFeatures(features map[string]bool) *HealthHandler {
	h.features = features
	return h
}

// LivenessResponse is the body of GET /healthz.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// DetailedResponse is the body of GET /healthz/detail.
type DetailedResponse struct {
	Status     string                    `json:"status"`
	Version    string                    `json:"version"`
	Uptime     string                    `json:"uptime"`
	Components map[string]ComponentCheck `json:"components"`
	Features   map[string]bool           `json:"features,omitempty"`
	Down       []string                  `json:"down,omitempty"`
}

// ComponentCheck is the check result for one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness handles GET /healthz. Always 200 while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  h.uptime(),
	})
}

// Readiness handles GET /readyz: 200 when every dependency answers, 503
// otherwise. With no dependencies configured the pipeline runs fully in
// process and is always ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if len(h.checkers) == 0 {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	components := h.checkAll(ctx)
	if len(downComponents(components)) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Components: components})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Components: components})
}

// Detailed handles GET /healthz/detail.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), detailTimeout)
	defer cancel()

	components := h.checkAll(ctx)
	resp := DetailedResponse{
		Status:     statusHealthy,
		Version:    h.version,
		Uptime:     h.uptime(),
		Components: components,
		Features:   h.features,
		Down:       downComponents(components),
	}

	code := http.StatusOK
	if len(resp.Down) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) uptime() string {
	return time.Since(h.startAt).Truncate(time.Second).String()
}

// checkAll runs every checker concurrently. A failing checker never cancels the
// others.
func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex

	var g errgroup.Group
	for _, c := range h.checkers {
		c := c
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)

			cc := ComponentCheck{
				Status:  statusHealthy,
				Latency: time.Since(start).Truncate(time.Microsecond).String(),
			}
			if err != nil {
				cc.Status = statusUnhealthy
				cc.Error = err.Error()
			}
			if h.observer != nil {
				h.observer.SetHealth(c.Name(), err == nil)
			}

			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func downComponents(components map[string]ComponentCheck) []string {
	var down []string
	for name, c := range components {
		if c.Status != statusHealthy {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}
