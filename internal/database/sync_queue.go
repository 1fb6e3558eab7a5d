package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tasksync/internal/models"
)

// SyncQueueStore is the relational sync queue backed by the task_sync_queue table.
type SyncQueueStore struct {
	db *DB
}

func NewSyncQueueStore(db *DB) *SyncQueueStore {
	return &SyncQueueStore{db: db}
}

const syncColumns = `id, operation, entity_type, entity_id, data, status, attempts, last_error, created_at, synced_at`

func (s *SyncQueueStore) Enqueue(ctx context.Context, rec *models.SyncRecord) error {
	now := s.db.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.Status == "" {
		rec.Status = models.SyncPending
	}
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	query := `INSERT INTO task_sync_queue (operation, entity_type, entity_id, data, status, attempts, last_error, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		rec.Operation,
		rec.EntityType,
		rec.EntityID,
		string(data),
		rec.Status,
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *SyncQueueStore) Get(ctx context.Context, id string) (*models.SyncRecord, error) {
	rowID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM task_sync_queue WHERE id = ?`, rowID)
	rec, err := scanSyncRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SyncQueueStore) Pending(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = models.DefaultBatchSize
	}
	query := `SELECT ` + syncColumns + `
              FROM task_sync_queue
              WHERE status = ?
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, models.SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync records: %w", err)
	}
	defer rows.Close()

	var records []models.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync records: %w", err)
	}
	return records, nil
}

func (s *SyncQueueStore) MarkCompleted(ctx context.Context, id string) error {
	rowID, err := parseID(id)
	if err != nil {
		return err
	}
	now := s.db.now()
	query := `UPDATE task_sync_queue SET status = ?, synced_at = ?, last_error = NULL, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, id, query, models.SyncCompleted, now, now, rowID)
}

// MarkFailedAttempt bumps attempts and flips the status in a single statement.
func (s *SyncQueueStore) MarkFailedAttempt(ctx context.Context, id, errMsg string, maxAttempts int) (models.SyncStatus, error) {
	rowID, err := parseID(id)
	if err != nil {
		return "", err
	}
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	query := `UPDATE task_sync_queue
              SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
                  attempts = attempts + 1,
                  last_error = ?,
                  updated_at = ?
              WHERE id = ? AND status = ?`
	// status is assigned before attempts: MySQL evaluates SET left to right.
	if err := s.execOne(ctx, id, query, maxAttempts, models.SyncFailed, errMsg, s.db.now(), rowID, models.SyncPending); err != nil {
		return "", err
	}

	var status models.SyncStatus
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM task_sync_queue WHERE id = ?`, rowID).Scan(&status); err != nil {
		return "", fmt.Errorf("failed to read sync record status: %w", err)
	}
	return status, nil
}

func (s *SyncQueueStore) ResetFailed(ctx context.Context) (int, error) {
	query := `UPDATE task_sync_queue SET status = ?, attempts = 0, last_error = NULL, updated_at = ? WHERE status = ?`
	result, err := s.db.ExecContext(ctx, query, models.SyncPending, s.db.now(), models.SyncFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed sync records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SyncQueueStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM task_sync_queue WHERE status = ? AND synced_at IS NOT NULL AND synced_at < ?`
	result, err := s.db.ExecContext(ctx, query, models.SyncCompleted, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sync records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SyncQueueStore) Stats(ctx context.Context) (models.SyncStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}
	defer rows.Close()

	stats := models.SyncStats{
		models.SyncPending:   0,
		models.SyncCompleted: 0,
		models.SyncFailed:    0,
	}
	for rows.Next() {
		var status models.SyncStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *SyncQueueStore) execOne(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync record %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync record %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRecord(row rowScanner) (*models.SyncRecord, error) {
	var (
		rec       models.SyncRecord
		id        int64
		data      sql.NullString
		lastError sql.NullString
		syncedAt  sql.NullTime
	)
	err := row.Scan(&id, &rec.Operation, &rec.EntityType, &rec.EntityID, &data, &rec.Status,
		&rec.Attempts, &lastError, &rec.CreatedAt, &syncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync record: %w", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.Data = json.RawMessage("null")
	if data.Valid && data.String != "" {
		rec.Data = json.RawMessage(data.String)
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return &rec, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sync record %q: %w", id, ErrNotFound)
	}
	return n, nil
}
