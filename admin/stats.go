package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/engage/counter"
	"github.com/maxpert/engage/event"
)

// handleStats returns queue, counter and per-type event statistics
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.backend.Stats())
}

// handleEventType returns the statistics of one event type
func (h *AdminHandlers) handleEventType(w http.ResponseWriter, r *http.Request) {
	t := event.Type(chi.URLParam(r, "type"))
	for _, ts := range h.backend.Stats().Events.Types {
		if ts.Type == t {
			writeJSONResponse(w, ts)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "no events recorded for type "+string(t))
}

// handleCounter reads one counter through the cache
func (h *AdminHandlers) handleCounter(w http.ResponseWriter, r *http.Request) {
	entity, err := counter.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid id")
		return
	}

	v, err := h.backend.Count(r.Context(), entity, id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"key":   counter.NewKey(entity, id).String(),
		"value": v,
	})
}

// handleReconcile forces a reconciliation pass
func (h *AdminHandlers) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.backend.Reconcile(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"written":     res.Written,
		"failed":      res.Failed,
		"pending":     res.Pending,
		"duration_ms": res.Duration.Milliseconds(),
	})
}
