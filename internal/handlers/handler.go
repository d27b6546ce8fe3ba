package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/engine"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

// Indexer is the engine surface used by the API.
type Indexer interface {
	Status(ctx context.Context) (*engine.Status, error)
	// Resync backfills every topic with realtime polling paused.
	Resync(ctx context.Context) error
}

// StatsService is the aggregator surface used by the API.
type StatsService interface {
	Today() time.Time
	CalculateDailyStats(ctx context.Context) (*models.StatsSnapshot, error)
	GenerateHistoricalStats(ctx context.Context, days int) (int, error)
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db      store.DataStore
	records store.RecordStore
	redis   *store.RedisStore
	indexer Indexer
	stats   StatsService
	logger  zerolog.Logger

	// base outlives requests; admin syncs run on it.
	base    context.Context
	syncing atomic.Bool
}

// Deps groups the Handler dependencies. Records defaults to DB; Redis may be
// nil.
type Deps struct {
	DB      store.DataStore
	Records store.RecordStore
	Redis   *store.RedisStore
	Indexer Indexer
	Stats   StatsService
	Logger  zerolog.Logger
	Base    context.Context
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	records := d.Records
	if records == nil {
		records = d.DB
	}
	base := d.Base
	if base == nil {
		base = context.Background()
	}
	return &Handler{
		db:      d.DB,
		records: records,
		redis:   d.Redis,
		indexer: d.Indexer,
		stats:   d.Stats,
		logger:  d.Logger.With().Str("component", "api").Logger(),
		base:    base,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// intParam parses a positive integer query parameter. Missing values yield
// def; values above max are clamped.
func intParam(r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
