package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/maxpert/engage/counter"
	"github.com/maxpert/engage/engine"
	"github.com/rs/zerolog/log"
)

// Backend is the part of the engine the admin surface reads and drives
type Backend interface {
	Stats() engine.Stats
	Count(ctx context.Context, entity counter.EntityType, id int64) (int64, error)
	Reconcile(ctx context.Context) (counter.ReconcileResult, error)
}

// AdminHandlers serves the engine admin API
type AdminHandlers struct {
	backend Backend
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(backend Backend) *AdminHandlers {
	return &AdminHandlers{backend: backend}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
