package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
	"github.com/Mcnoble1/Medisphere-sub001/internal/content"
	"github.com/Mcnoble1/Medisphere-sub001/internal/metrics"
	"github.com/Mcnoble1/Medisphere-sub001/internal/mirror"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// ErrAlreadyRunning is returned by StartRealtime when polling is active.
var ErrAlreadyRunning = errors.New("realtime indexing already running")

// Source is the read side of the mirror API used by the engine.
type Source interface {
	Drain(ctx context.Context, topicID string, fromSequence int64, onBatch mirror.BatchFunc) error
	Poll(ctx context.Context, topicID string, fromSequence int64, onMessage mirror.MessageFunc, interval time.Duration) *mirror.Subscription
	Decode(payload string) *content.Content
}

// Store is the persistence the engine writes through.
type Store interface {
	store.CursorStore
	store.RecordStore
}

// Directory resolves raw patient and provider references to directory ids.
// An empty result means the reference is unknown.
type Directory interface {
	ResolvePatient(ctx context.Context, ref string) (string, error)
	ResolveProvider(ctx context.Context, ref string) (string, error)
}

// Config controls which topics are indexed and how often they are polled.
type Config struct {
	Topics       []string
	PollInterval time.Duration
}

// Engine indexes ledger topics into the record store.
type Engine struct {
	source   Source
	store    Store
	dir      Directory
	clock    clock.Clock
	logger   zerolog.Logger
	topics   []string
	interval time.Duration

	mu      sync.Mutex
	subs    map[string]*mirror.Subscription
	loops   sync.WaitGroup
	running bool
	pollCtx context.Context

	// syncMu serializes backfills so a topic never has two sync writers.
	syncMu sync.Mutex
}

// New creates an engine. dir may be nil, in which case references are
// stored as they appear in the payload.
func New(source Source, st Store, dir Directory, clk clock.Clock, cfg Config, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Engine{
		source:   source,
		store:    st,
		dir:      dir,
		clock:    clk,
		logger:   logger.With().Str("component", "engine").Logger(),
		topics:   append([]string(nil), cfg.Topics...),
		interval: interval,
		subs:     make(map[string]*mirror.Subscription),
	}
}

// InitializeState creates a cursor for every configured topic that has none.
func (e *Engine) InitializeState(ctx context.Context) error {
	for _, topic := range e.topics {
		c, created, err := e.store.EnsureCursor(ctx, topic, e.clock.Now())
		if err != nil {
			return fmt.Errorf("ensure cursor %s: %w", topic, err)
		}
		if created {
			e.logger.Info().Str("topic", topic).Msg("created cursor")
		}
		metrics.CursorSequence.WithLabelValues(topic).Set(float64(c.LastProcessedSequence))
	}
	return nil
}

// ProcessMessage indexes one message. It returns nil, nil when the message
// is skipped, and the stored record when the message was already indexed.
func (e *Engine) ProcessMessage(ctx context.Context, msg models.LogMessage) (*models.IndexedRecord, error) {
	log := e.logger.With().
		Str("topic", msg.TopicID).
		Int64("sequence", msg.SequenceNumber).
		Str("message_id", msg.MessageID()).
		Logger()

	c := e.source.Decode(msg.Payload)
	if c == nil {
		log.Warn().Msg("skipping undecodable payload")
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "malformed").Inc()
		return nil, nil
	}

	existing, err := e.store.GetRecord(ctx, msg.MessageID())
	if err != nil {
		return nil, fmt.Errorf("lookup record %s: %w", msg.MessageID(), err)
	}
	if existing != nil {
		log.Debug().Msg("message already indexed")
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "duplicate").Inc()
		return existing, nil
	}

	ts, err := mirror.ParseTimestamp(msg.ConsensusTimestamp)
	if err != nil {
		log.Warn().Err(err).Msg("skipping message with bad timestamp")
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "malformed").Inc()
		return nil, nil
	}

	rec := e.ExtractMetadata(ctx, c, msg, ts)
	if rec == nil {
		log.Info().Msg("skipping unrecognized payload")
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "skipped").Inc()
		return nil, nil
	}

	stored, created, err := e.store.InsertRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert record %s: %w", msg.MessageID(), err)
	}
	if created {
		log.Debug().Str("record_type", string(stored.RecordType)).Msg("indexed record")
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "indexed").Inc()
	} else {
		metrics.MessagesProcessed.WithLabelValues(msg.TopicID, "duplicate").Inc()
	}
	return stored, nil
}

// handle processes a message and then moves the cursor past it, whether or
// not the message produced a record.
func (e *Engine) handle(ctx context.Context, msg models.LogMessage) error {
	if _, err := e.ProcessMessage(ctx, msg); err != nil {
		return err
	}
	pos := models.Position{
		Sequence:  msg.SequenceNumber,
		Timestamp: msg.ConsensusTimestamp,
		MessageID: msg.MessageID(),
	}
	if _, err := e.store.AdvanceCursor(ctx, msg.TopicID, pos, e.clock.Now()); err != nil {
		return fmt.Errorf("advance cursor %s to %d: %w", msg.TopicID, msg.SequenceNumber, err)
	}
	metrics.CursorSequence.WithLabelValues(msg.TopicID).Set(float64(msg.SequenceNumber))
	return nil
}

// SyncTopic backfills a topic from its stored cursor.
func (e *Engine) SyncTopic(ctx context.Context, topicID string) error {
	c, err := e.store.GetCursor(ctx, topicID)
	if err != nil {
		return fmt.Errorf("load cursor %s: %w", topicID, err)
	}
	var from int64
	if c != nil {
		from = c.LastProcessedSequence
	}
	return e.SyncTopicFrom(ctx, topicID, from)
}

// SyncTopicFrom backfills a topic from the given sequence. The cursor is
// persisted after every message. On failure the cursor is put in error
// state and the error is returned.
func (e *Engine) SyncTopicFrom(ctx context.Context, topicID string, from int64) error {
	runID := ulid.Make().String()
	log := e.logger.With().Str("topic", topicID).Str("run_id", runID).Logger()
	start := e.clock.Now()

	if _, _, err := e.store.EnsureCursor(ctx, topicID, start); err != nil {
		return fmt.Errorf("ensure cursor %s: %w", topicID, err)
	}
	if err := e.store.MarkSyncing(ctx, topicID, start); err != nil {
		return fmt.Errorf("mark %s syncing: %w", topicID, err)
	}
	log.Info().Int64("from", from).Msg("sync started")

	var processed int
	err := e.source.Drain(ctx, topicID, from, func(ctx context.Context, batch []models.LogMessage) error {
		for _, msg := range batch {
			if msg.TopicID == "" {
				msg.TopicID = topicID
			}
			if err := e.handle(ctx, msg); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		metrics.SyncRuns.WithLabelValues(topicID, "error").Inc()
		log.Error().Err(err).Int("processed", processed).Msg("sync failed")
		// The caller's context may be gone; record the failure regardless.
		if markErr := e.store.MarkError(context.WithoutCancel(ctx), topicID, err.Error(), e.clock.Now()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record sync error")
		}
		return fmt.Errorf("sync %s: %w", topicID, err)
	}

	if err := e.store.MarkSynced(ctx, topicID, e.clock.Now()); err != nil {
		return fmt.Errorf("mark %s synced: %w", topicID, err)
	}
	metrics.SyncRuns.WithLabelValues(topicID, "ok").Inc()
	log.Info().
		Int("processed", processed).
		Dur("took", e.clock.Now().Sub(start)).
		Msg("sync completed")
	return nil
}

// SyncAll backfills every configured topic in order. A failing topic does
// not stop the others; all failures are returned joined.
func (e *Engine) SyncAll(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.syncAll(ctx)
}

func (e *Engine) syncAll(ctx context.Context) error {
	var errs []error
	for _, topic := range e.topics {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.SyncTopic(ctx, topic); err != nil {
			e.logger.Error().Err(err).Str("topic", topic).Msg("topic sync failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartRealtime starts one poll loop per topic from its stored cursor.
func (e *Engine) StartRealtime(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	subs := make(map[string]*mirror.Subscription, len(e.topics))
	for _, topic := range e.topics {
		c, err := e.store.GetCursor(ctx, topic)
		if err != nil {
			for _, s := range subs {
				s.Stop()
			}
			return fmt.Errorf("load cursor %s: %w", topic, err)
		}
		var from int64
		if c != nil {
			from = c.LastProcessedSequence
		}

		topic := topic
		sub := e.source.Poll(ctx, topic, from, func(ctx context.Context, msg models.LogMessage) error {
			if msg.TopicID == "" {
				msg.TopicID = topic
			}
			return e.handle(ctx, msg)
		}, e.interval)
		subs[topic] = sub

		e.loops.Add(1)
		metrics.ActiveSubscriptions.Inc()
		go func() {
			defer e.loops.Done()
			<-sub.Done()
			metrics.ActiveSubscriptions.Dec()
		}()
		e.logger.Info().Str("topic", topic).Int64("from", from).Msg("realtime polling started")
	}

	e.subs = subs
	e.running = true
	e.pollCtx = ctx
	return nil
}

// Resync backfills every topic with realtime polling paused, so the poll
// loops and the backfill never write the same cursor at once. Polling is
// restarted from the new cursors if it was running before.
func (e *Engine) Resync(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.mu.Lock()
	wasRunning, pollCtx := e.running, e.pollCtx
	e.mu.Unlock()

	if wasRunning {
		e.Stop()
		e.Wait()
	}
	err := e.syncAll(ctx)
	if !wasRunning || pollCtx.Err() != nil {
		return err
	}
	if startErr := e.StartRealtime(pollCtx); startErr != nil && !errors.Is(startErr, ErrAlreadyRunning) {
		err = errors.Join(err, fmt.Errorf("restart realtime: %w", startErr))
	}
	return err
}

// Stop signals every poll loop to end and forgets them. It does not wait
// for in-flight fetches; use Wait for that.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for topic, sub := range e.subs {
		sub.Stop()
		e.logger.Info().Str("topic", topic).Msg("realtime polling stopped")
	}
	e.subs = make(map[string]*mirror.Subscription)
	e.running = false
}

// Wait blocks until every poll loop ever started has exited.
func (e *Engine) Wait() {
	e.loops.Wait()
}

// TopicStatus is the cursor summary of one topic.
type TopicStatus struct {
	TopicID               string     `json:"topic_id"`
	Status                string     `json:"status"`
	LastProcessedSequence int64      `json:"last_processed_sequence"`
	LastProcessedAt       string     `json:"last_processed_timestamp,omitempty"`
	TotalProcessed        int64      `json:"total_processed"`
	LastError             string     `json:"last_error,omitempty"`
	LastErrorAt           *time.Time `json:"last_error_at,omitempty"`
	SyncCompletedAt       *time.Time `json:"sync_completed_at,omitempty"`
	Subscribed            bool       `json:"subscribed"`
}

// Status reports the engine state.
type Status struct {
	Running             bool          `json:"running"`
	Topics              []TopicStatus `json:"topics"`
	TotalRecords        int64         `json:"total_records"`
	ActiveSubscriptions int           `json:"active_subscriptions"`
}

// Status returns the indexing state of every configured topic.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	running := e.running
	subscribed := make(map[string]bool, len(e.subs))
	active := 0
	for topic, sub := range e.subs {
		live := sub.Running() && !sub.Exited()
		subscribed[topic] = live
		if live {
			active++
		}
	}
	e.mu.Unlock()

	total, err := e.store.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	st := &Status{
		Running:             running,
		Topics:              make([]TopicStatus, 0, len(e.topics)),
		TotalRecords:        total,
		ActiveSubscriptions: active,
	}
	for _, topic := range e.topics {
		ts := TopicStatus{TopicID: topic, Status: "unconfigured", Subscribed: subscribed[topic]}
		c, err := e.store.GetCursor(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("load cursor %s: %w", topic, err)
		}
		if c != nil {
			ts.Status = string(c.Status)
			ts.LastProcessedSequence = c.LastProcessedSequence
			ts.LastProcessedAt = c.LastProcessedTimestamp
			ts.TotalProcessed = c.TotalProcessed
			ts.LastError = c.LastError
			ts.LastErrorAt = c.LastErrorAt
			ts.SyncCompletedAt = c.SyncCompletedAt
		}
		st.Topics = append(st.Topics, ts)
	}
	return st, nil
}
