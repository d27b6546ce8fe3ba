package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxMessageIDLen bounds "seconds.nanos" ids.
const maxMessageIDLen = 32

// GetRecord returns a single indexed record by message id.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "messageId"))
	if id == "" || len(id) > maxMessageIDLen {
		h.Error(w, http.StatusBadRequest, "invalid message id")
		return
	}

	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", id).Msg("record lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	if rec == nil {
		h.Error(w, http.StatusNotFound, "record not found")
		return
	}
	h.JSON(w, http.StatusOK, rec)
}
