// Package offline decides whether a task mutation is synced now or queued, and drains
// the queue when connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/provider"
	"tasksync/internal/storage"

	"github.com/rs/zerolog"
)

// ErrUnavailable means no store could take the record under the error fallback strategy.
var ErrUnavailable = errors.New("offline: no sync store available")

// Drain statuses.
const (
	StatusOK       = "ok"
	StatusOffline  = "offline"
	StatusDisabled = "disabled"
)

const deadLetterPrefix = "sync/deadletter/"

// FeatureChecker is the subset of the feature detector the coordinator needs.
type FeatureChecker interface {
	HasFeature(ctx context.Context, f models.Feature) bool
}

type Options struct {
	Config    config.SyncConfig
	Features  FeatureChecker
	Database  domain.SyncStore // nil when no relational database is configured
	FileQueue domain.SyncStore
	Provider  provider.Provider
	Tasks     domain.TaskRepository // receives external ids assigned on create; optional
	Storage   storage.Driver        // dead-letter copies of failed records; optional
	Bus       *events.EventBus
	Logger    *zerolog.Logger
	Now       func() time.Time
}

type Coordinator struct {
	cfg      config.SyncConfig
	features FeatureChecker
	db       domain.SyncStore
	file     domain.SyncStore
	provider provider.Provider
	tasks    domain.TaskRepository
	storage  storage.Driver
	bus      *events.EventBus
	logger   zerolog.Logger
	now      func() time.Time
}

// Result summarizes one drain.
type Result struct {
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Status    string `json:"status"`
}

func New(opts Options) *Coordinator {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "offline").Logger()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cfg := opts.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.DefaultBatchSize
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = models.DefaultRetentionDays
	}
	return &Coordinator{
		cfg:      cfg,
		features: opts.Features,
		db:       opts.Database,
		file:     opts.FileQueue,
		provider: opts.Provider,
		tasks:    opts.Tasks,
		storage:  opts.Storage,
		bus:      opts.Bus,
		logger:   logger,
		now:      now,
	}
}

// QueueForSync persists a pending record: in the relational store when the database is
// available, otherwise in the file queue (or ErrUnavailable with fallback_strategy: error).
func (c *Coordinator) QueueForSync(ctx context.Context, op models.Operation, entityType, entityID string, data any) error {
	if !op.Valid() {
		return fmt.Errorf("queue %s/%s: unknown operation %q", entityType, entityID, op)
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	rec := models.NewSyncRecord(op, entityType, entityID, raw, c.now())

	store, name, err := c.enqueueTarget(ctx)
	if err != nil {
		return err
	}
	if err := store.Enqueue(ctx, &rec); err != nil {
		return fmt.Errorf("failed to queue %s %s/%s in %s store: %w", op, entityType, entityID, name, err)
	}

	metrics.IncSync("queued")
	c.logger.Info().
		Str("store", name).
		Str("record_id", rec.ID).
		Str("operation", string(op)).
		Str("entity_id", entityID).
		Msg("Sync record queued")
	return nil
}

// Dispatch replays the mutation immediately when the drain preconditions hold and falls
// back to QueueForSync otherwise. It reports whether the mutation was queued.
func (c *Coordinator) Dispatch(ctx context.Context, op models.Operation, entityType, entityID string, data any) (bool, error) {
	if !c.cfg.Enabled {
		return false, nil
	}
	if c.ready(ctx) == StatusOK {
		raw, err := encodeData(data)
		if err != nil {
			return false, err
		}
		rec := models.NewSyncRecord(op, entityType, entityID, raw, c.now())
		err = c.replay(ctx, &rec)
		if err == nil {
			metrics.IncSync("synced")
			return false, nil
		}
		c.logger.Warn().Err(err).
			Str("operation", string(op)).
			Str("entity_id", entityID).
			Msg("Direct sync failed, queueing")
	}
	if err := c.QueueForSync(ctx, op, entityType, entityID, data); err != nil {
		return false, err
	}
	return true, nil
}

// ProcessSyncQueue drains up to limit pending records in creation order. When the
// database is active, leftover capacity drains records captured in the file queue
// while it was down.
func (c *Coordinator) ProcessSyncQueue(ctx context.Context, limit int) Result {
	status := c.ready(ctx)
	if status != StatusOK {
		c.logger.Info().Str("status", status).Msg("Sync queue not processed")
		return Result{Status: status}
	}
	if limit <= 0 {
		limit = c.cfg.BatchSize
	}

	res := Result{Status: StatusOK}
	for _, target := range c.stores(ctx) {
		remaining := limit - res.Processed - res.Failed
		if remaining <= 0 {
			break
		}
		records, err := target.store.Pending(ctx, remaining)
		if err != nil {
			c.logger.Error().Err(err).Str("store", target.name).Msg("Failed to read pending sync records")
			continue
		}
		for i := range records {
			if ctx.Err() != nil {
				return res
			}
			if c.process(ctx, target, &records[i]) {
				res.Processed++
			} else {
				res.Failed++
			}
		}
	}

	c.logger.Info().Int("processed", res.Processed).Int("failed", res.Failed).Msg("Sync queue processed")
	return res
}

// ResetFailed returns every failed record to pending with zero attempts.
func (c *Coordinator) ResetFailed(ctx context.Context) (int, error) {
	total := 0
	for _, target := range c.stores(ctx) {
		n, err := target.store.ResetFailed(ctx)
		if err != nil {
			return total, fmt.Errorf("failed to reset %s store: %w", target.name, err)
		}
		total += n
	}
	c.logger.Info().Int("reset", total).Msg("Failed sync records reset")
	return total, nil
}

// Cleanup deletes completed records synced more than days ago (retention_days when days <= 0).
func (c *Coordinator) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = c.cfg.RetentionDays
	}
	cutoff := c.now().AddDate(0, 0, -days)
	total := 0
	for _, target := range c.stores(ctx) {
		n, err := target.store.Cleanup(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to cleanup %s store: %w", target.name, err)
		}
		total += n
	}
	c.logger.Info().Int("removed", total).Int("days", days).Msg("Completed sync records cleaned up")
	return total, nil
}

// Stats reports record counts per status for each reachable store.
func (c *Coordinator) Stats(ctx context.Context) (map[string]models.SyncStats, error) {
	out := make(map[string]models.SyncStats)
	for _, target := range c.stores(ctx) {
		stats, err := target.store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s stats: %w", target.name, err)
		}
		out[target.name] = stats
	}
	return out, nil
}

// Status reports whether a drain would run now: ok, offline or disabled.
func (c *Coordinator) Status(ctx context.Context) string {
	return c.ready(ctx)
}

// ready evaluates the drain preconditions: online and hub_service. A standalone node
// with direct_sync set only needs online.
func (c *Coordinator) ready(ctx context.Context) string {
	if !c.cfg.Enabled || c.provider == nil || !c.provider.IsConfigured() {
		return StatusDisabled
	}
	if c.features == nil || !c.features.HasFeature(ctx, models.FeatureOnline) {
		return StatusOffline
	}
	if c.cfg.DirectSync && c.cfg.Mode == config.ModeStandalone {
		return StatusOK
	}
	if !c.features.HasFeature(ctx, models.FeatureHubService) {
		return StatusOffline
	}
	return StatusOK
}

type target struct {
	name  string
	store domain.SyncStore
}

func (c *Coordinator) databaseUp(ctx context.Context) bool {
	return c.db != nil && c.features != nil && c.features.HasFeature(ctx, models.FeatureDatabase)
}

func (c *Coordinator) enqueueTarget(ctx context.Context) (domain.SyncStore, string, error) {
	if c.databaseUp(ctx) {
		return c.db, "database", nil
	}
	if c.file == nil || (c.db != nil && c.cfg.FallbackStrategy == config.FallbackError) {
		return nil, "", ErrUnavailable
	}
	return c.file, "file", nil
}

// stores lists the reachable stores, database first.
func (c *Coordinator) stores(ctx context.Context) []target {
	var out []target
	if c.databaseUp(ctx) {
		out = append(out, target{"database", c.db})
	}
	if c.file != nil {
		out = append(out, target{"file", c.file})
	}
	return out
}

// process replays one record and books the outcome. It reports success.
func (c *Coordinator) process(ctx context.Context, t target, rec *models.SyncRecord) bool {
	log := c.logger.With().Str("store", t.name).Str("record_id", rec.ID).Str("entity_id", rec.EntityID).Logger()

	replayErr := c.replay(ctx, rec)
	if replayErr == nil {
		if err := t.store.MarkCompleted(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("Failed to mark sync record completed")
			return false
		}
		metrics.IncSync("synced")
		c.publish(events.EventSyncCompleted, events.SyncEventPayload{RecordID: rec.ID, EntityID: rec.EntityID, Attempts: rec.Attempts})
		return true
	}

	status, err := t.store.MarkFailedAttempt(ctx, rec.ID, replayErr.Error(), c.cfg.MaxAttempts)
	if err != nil {
		log.Error().Err(err).AnErr("replay_error", replayErr).Msg("Failed to record sync attempt")
		return false
	}
	rec.Attempts++
	log.Warn().Err(replayErr).Int("attempts", rec.Attempts).Str("status", string(status)).Msg("Sync record replay failed")

	if status != models.SyncFailed {
		metrics.IncSync("retried")
		return false
	}

	metrics.IncSync("failed")
	msg := replayErr.Error()
	rec.Status = models.SyncFailed
	rec.LastError = &msg
	if c.storage != nil {
		if err := c.storage.Set(ctx, deadLetterPrefix+t.name+"/"+rec.ID, rec); err != nil {
			log.Error().Err(err).Msg("Failed to write dead-letter copy")
		}
	}
	c.publish(events.EventSyncFailed, events.SyncEventPayload{RecordID: rec.ID, EntityID: rec.EntityID, Attempts: rec.Attempts, Error: msg})
	return false
}

func (c *Coordinator) publish(eventType string, payload any) {
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Warn().Err(err).Str("event", eventType).Msg("Event handler failed")
	}
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode sync payload: %w", err)
	}
	return raw, nil
}
