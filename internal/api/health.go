package api

import (
	"context"
	"net/http"

	"github.com/pharci/lexica/internal/log"
)

// health is a simple liveness endpoint for Docker/Kubernetes probes.
// Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// counter is the slice of the index the readiness probe needs.
type counter interface {
	Count(ctx context.Context) (int, error)
}

// readiness probes the vector index. A failing Count means the service can
// accept traffic but cannot answer grounded questions, so it reports 503.
func readiness(idx counter, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := idx.Count(r.Context())
		if err != nil {
			logger.Warn("readiness probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "vector index unreachable",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"documents_count": count,
		})
	})
}
