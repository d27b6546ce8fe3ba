package handlers

import "net/http"

// Status returns the indexing state of every topic.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.indexer.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("status failed")
		h.Error(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	h.JSON(w, http.StatusOK, st)
}
