// Package stats computes daily snapshots of the record index.
package stats

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
	"github.com/Mcnoble1/Medisphere-sub001/internal/metrics"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

// ActiveWindow is how far back a patient counts as active.
const ActiveWindow = 24 * time.Hour

// Store is what the aggregator reads from and writes to.
type Store interface {
	store.CursorStore
	store.RecordStore
	store.SnapshotStore
}

// Aggregator computes and stores stats snapshots.
type Aggregator struct {
	store  Store
	clock  clock.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an aggregator.
func New(st Store, clk clock.Clock, logger zerolog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Aggregator{
		store:  st,
		clock:  clk,
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// Today returns local midnight of the current day.
func (a *Aggregator) Today() time.Time {
	return midnight(a.clock.Now())
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CalculateDailyStats recomputes today's snapshot from the live index and
// stores it, replacing any earlier snapshot for today.
func (a *Aggregator) CalculateDailyStats(ctx context.Context) (*models.StatsSnapshot, error) {
	now := a.clock.Now()
	today := midnight(now)

	sum, err := a.store.SummarizeRecords(ctx, models.SummaryQuery{
		From:         today,
		To:           today.AddDate(0, 0, 1),
		ActiveWindow: ActiveWindow,
	})
	if err != nil {
		metrics.StatsRuns.WithLabelValues("daily", "error").Inc()
		return nil, fmt.Errorf("summarize records: %w", err)
	}

	snap := fromSummary(today, sum, now)
	snap.MessagesToday = sum.New

	if snap.TotalMessages, err = a.store.SumProcessed(ctx); err != nil {
		metrics.StatsRuns.WithLabelValues("daily", "error").Inc()
		return nil, fmt.Errorf("sum processed: %w", err)
	}
	cursors, err := a.store.ListCursors(ctx)
	if err != nil {
		metrics.StatsRuns.WithLabelValues("daily", "error").Inc()
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	for _, c := range cursors {
		if c.Status == models.CursorActive || c.Status == models.CursorSyncing {
			snap.ActiveTopics++
		}
	}

	if err := a.store.UpsertSnapshot(ctx, snap); err != nil {
		metrics.StatsRuns.WithLabelValues("daily", "error").Inc()
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	metrics.StatsRuns.WithLabelValues("daily", "ok").Inc()
	a.logger.Info().
		Str("date", today.Format("2006-01-02")).
		Int64("total_records", snap.TotalRecords).
		Int64("new_records", snap.NewRecords).
		Msg("daily stats updated")
	return snap, nil
}

// GenerateHistoricalStats fills in snapshots for the given number of days
// before today. Dates that already have a snapshot are left alone. It
// returns how many snapshots were written.
func (a *Aggregator) GenerateHistoricalStats(ctx context.Context, days int) (int, error) {
	today := a.Today()
	inserted := 0

	for i := 1; i <= days; i++ {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		date := today.AddDate(0, 0, -i)

		exists, err := a.store.SnapshotExists(ctx, date)
		if err != nil {
			metrics.StatsRuns.WithLabelValues("historical", "error").Inc()
			return inserted, fmt.Errorf("check snapshot %s: %w", date.Format("2006-01-02"), err)
		}
		if exists {
			continue
		}

		sum, err := a.store.SummarizeRecords(ctx, models.SummaryQuery{
			From: date,
			To:   date.AddDate(0, 0, 1),
			AsOf: true,
		})
		if err != nil {
			metrics.StatsRuns.WithLabelValues("historical", "error").Inc()
			return inserted, fmt.Errorf("summarize %s: %w", date.Format("2006-01-02"), err)
		}

		// Live gauges have no meaning for a past day and stay zero.
		snap := fromSummary(date, sum, a.clock.Now())
		snap.ActivePatients = 0
		snap.Historical = true

		ok, err := a.store.InsertSnapshot(ctx, snap)
		if err != nil {
			metrics.StatsRuns.WithLabelValues("historical", "error").Inc()
			return inserted, fmt.Errorf("store snapshot %s: %w", date.Format("2006-01-02"), err)
		}
		if ok {
			inserted++
		}
	}

	metrics.StatsRuns.WithLabelValues("historical", "ok").Inc()
	a.logger.Info().Int("days", days).Int("inserted", inserted).Msg("historical stats generated")
	return inserted, nil
}

func fromSummary(date time.Time, sum *models.RecordSummary, computedAt time.Time) *models.StatsSnapshot {
	return &models.StatsSnapshot{
		Date:             date,
		TotalRecords:     sum.Total,
		RecordsByStatus:  sum.ByStatus,
		RecordsByType:    sum.ByType,
		NewRecords:       sum.New,
		VerifiedRecords:  sum.Verified,
		VerificationRate: verificationRate(sum.Verified, sum.Total),
		TotalShares:      sum.Shares,
		ConsentedShares:  sum.ConsentedShares,
		TokenizedRecords: sum.Tokenized,
		UniquePatients:   sum.UniquePatients,
		UniqueProviders:  sum.UniqueProviders,
		ActivePatients:   sum.ActivePatients,
		ComputedAt:       computedAt,
	}
}

// verificationRate returns the verified share in percent, rounded to two
// decimals.
func verificationRate(verified, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(verified)/float64(total)*10000) / 100
}

// StartAutoUpdate computes today's snapshot now and then on every interval
// until StopAutoUpdate is called or ctx ends. Failed runs are logged and
// retried on the next tick. Calling it while already running does nothing.
func (a *Aggregator) StartAutoUpdate(ctx context.Context, interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	ticker := a.clock.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		a.runDaily(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				a.runDaily(ctx)
			}
		}
	}()
	a.logger.Info().Dur("interval", interval).Msg("stats auto update started")
}

func (a *Aggregator) runDaily(ctx context.Context) {
	if _, err := a.CalculateDailyStats(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		a.logger.Error().Err(err).Msg("daily stats update failed")
	}
}

// StopAutoUpdate stops the update loop and waits for it to exit. It is
// safe to call when no loop is running.
func (a *Aggregator) StopAutoUpdate() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Info().Msg("stats auto update stopped")
}
