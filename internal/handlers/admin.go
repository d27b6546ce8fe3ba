package handlers

import (
	"net/http"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/api/middleware"
)

// TriggerSync starts a backfill of every topic in the background. Realtime
// polling is paused for the duration so each topic keeps one writer.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.syncing.CompareAndSwap(false, true) {
		h.Error(w, http.StatusConflict, "sync already in progress")
		return
	}
	operator := middleware.GetOperatorFromContext(r.Context())
	h.logger.Info().Str("operator", operator).Msg("admin sync requested")

	go func() {
		defer h.syncing.Store(false)
		start := time.Now()
		if err := h.indexer.Resync(h.base); err != nil {
			h.logger.Error().Err(err).Msg("admin sync finished with errors")
			return
		}
		h.logger.Info().Dur("took", time.Since(start)).Msg("admin sync finished")
	}()

	h.JSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

// RecalculateStats recomputes today's snapshot.
func (h *Handler) RecalculateStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.CalculateDailyStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("stats recalculation failed")
		h.Error(w, http.StatusInternalServerError, "failed to calculate stats")
		return
	}
	h.JSON(w, http.StatusOK, snap)
}

// BackfillStats fills in missing historical snapshots.
func (h *Handler) BackfillStats(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", 30, 365)
	if !ok {
		h.Error(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	n, err := h.stats.GenerateHistoricalStats(r.Context(), days)
	if err != nil {
		h.logger.Error().Err(err).Int("inserted", n).Msg("stats backfill failed")
		h.Error(w, http.StatusInternalServerError, "failed to generate historical stats")
		return
	}
	h.JSON(w, http.StatusOK, map[string]int{"days": days, "inserted": n})
}
