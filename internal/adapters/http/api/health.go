package api

import (
	"fmt"
	"net/http"
	"time"
)

// handleHealth handles GET /health/health.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Alive at %s", time.Now().UTC().Format(time.RFC3339))
}
