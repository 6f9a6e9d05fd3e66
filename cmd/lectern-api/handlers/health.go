package handlers

import (
	"net/http"

	"github.com/lectern-ai/lectern/internal/config"
)

// Health reports service status and which upstream capabilities are
// configured. Voice synthesis is optional; the rest of the API degrades
// to text-only turns without it.
func Health(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": "lectern",
			"capabilities": map[string]bool{
				"generation": cfg.Generation.APIKey != "",
				"voice":      cfg.Voice.APIKey != "",
			},
		})
	}
}
