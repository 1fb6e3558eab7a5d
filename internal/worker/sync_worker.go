package worker

import (
	"context"
	"time"

	"tasksync/internal/offline"

	"github.com/rs/zerolog"
)

// Drainer processes a batch of queued sync records.
type Drainer interface {
	ProcessSyncQueue(ctx context.Context, limit int) offline.Result
}

// SyncWorker drains the sync queue periodically. While the coordinator reports offline it
// backs off exponentially instead of polling at the regular interval.
type SyncWorker struct {
	drainer   Drainer
	interval  time.Duration
	batchSize int
	retry     RetryPolicy
	trigger   chan struct{}
	logger    zerolog.Logger
	wait      func(ctx context.Context, d time.Duration, trigger <-chan struct{}) bool
}

func NewSyncWorker(drainer Drainer, interval time.Duration, batchSize int, retry RetryPolicy, logger *zerolog.Logger) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 10 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = interval
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sync_worker").Logger()
	}
	return &SyncWorker{
		drainer:   drainer,
		interval:  interval,
		batchSize: batchSize,
		retry:     retry,
		trigger:   make(chan struct{}, 1),
		logger:    l,
		wait:      sleep,
	}
}

// Trigger asks for a drain before the next tick. It never blocks.
func (w *SyncWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("Sync worker started")
	defer w.logger.Info().Msg("Sync worker stopped")

	offlineRuns := 0
	for {
		if ctx.Err() != nil {
			return
		}

		res := w.drainer.ProcessSyncQueue(ctx, w.batchSize)
		delay := w.interval

		switch res.Status {
		case offline.StatusOffline:
			offlineRuns++
			delay = w.retry.NextDelay(offlineRuns)
			w.logger.Debug().Int("runs", offlineRuns).Dur("next", delay).Msg("Offline, backing off")
		case offline.StatusOK:
			offlineRuns = 0
			if w.batchSize > 0 && res.Processed+res.Failed >= w.batchSize {
				// Full batch: more records are likely waiting.
				delay = 0
			}
		default:
			offlineRuns = 0
		}

		if !w.wait(ctx, delay, w.trigger) {
			return
		}
	}
}

// sleep waits for d, a trigger or cancellation. It reports false on cancellation.
func sleep(ctx context.Context, d time.Duration, trigger <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-trigger:
		return true
	case <-timer.C:
		return true
	}
}
