package handlers

import (
	"net/http"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// HistoryResponse is the response of the stats history endpoint.
type HistoryResponse struct {
	Days      int                    `json:"days"`
	Snapshots []models.StatsSnapshot `json:"snapshots"`
}

// Stats returns today's snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.db.GetSnapshot(r.Context(), h.stats.Today())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if snap == nil {
		h.Error(w, http.StatusNotFound, "no stats for today yet")
		return
	}
	h.JSON(w, http.StatusOK, snap)
}

// StatsHistory returns the snapshots of the last N days, newest first.
func (h *Handler) StatsHistory(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", 30, 365)
	if !ok {
		h.Error(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}

	today := h.stats.Today()
	snaps, err := h.db.ListSnapshots(r.Context(), today.AddDate(0, 0, -days), today)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load stats history")
		return
	}
	if snaps == nil {
		snaps = []models.StatsSnapshot{}
	}
	h.JSON(w, http.StatusOK, HistoryResponse{Days: days, Snapshots: snaps})
}
