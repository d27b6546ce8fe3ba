package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check is the outcome of one dependency probe.
type Check struct {
	Status  string `json:"status"` // pass, fail or skip
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string           `json:"status"` // healthy or degraded
	Version   string           `json:"version"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// probe pings p. A nil pinger is a skip when optional and a failure otherwise.
func probe(ctx context.Context, p pinger, optional bool) Check {
	if p == nil {
		if optional {
			return Check{Status: "skip", Message: "not configured"}
		}
		return Check{Status: "fail", Message: "not configured"}
	}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health probes the database and, when configured, Redis.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var db, cache pinger
	if h.db != nil {
		db = h.db
	}
	if h.redis != nil {
		cache = h.redis
	}
	checks := map[string]Check{
		"database": probe(ctx, db, false),
		"redis":    probe(ctx, cache, true),
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Instance:  os.Getenv("HOSTNAME"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for _, c := range checks {
		if c.Status == "fail" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	h.JSON(w, code, resp)
}

// RootResponse is the root endpoint body.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root identifies the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{Name: "medisphere-indexer", Version: version})
}
