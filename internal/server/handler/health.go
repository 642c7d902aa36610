package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports dependency health and, when running in-process,
// dispatcher statistics.
type HealthHandler struct {
	checks map[string]HealthCheck
	stats  func() any
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. stats may be nil.
func NewHealthHandler(checks map[string]HealthCheck, stats func() any, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, stats: stats, logger: logger.With(slog.String("handler", "health"))}
}

// HealthCheck answers 200 when every check passes and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    results,
	}
	if h.stats != nil {
		body["dispatcher"] = h.stats()
	}
	writeJSON(w, code, body)
}
