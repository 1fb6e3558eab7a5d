package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/database"
)

// DatabaseDriver keeps envelopes in the storage_items table of the relational database.
type DatabaseDriver struct {
	db  *database.DB
	now func() time.Time
}

func NewDatabaseDriver(db *database.DB) *DatabaseDriver {
	return &DatabaseDriver{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (d *DatabaseDriver) WithClock(now func() time.Time) *DatabaseDriver {
	d.now = now
	return d
}

func (d *DatabaseDriver) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	item, ok, err := d.load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, decodeInto(item, dst)
}

func (d *DatabaseDriver) Has(ctx context.Context, key string) (bool, error) {
	return d.Get(ctx, key, nil)
}

func (d *DatabaseDriver) Set(ctx context.Context, key string, value any) error {
	return d.set(ctx, key, value, nil)
}

func (d *DatabaseDriver) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return d.set(ctx, key, value, &ttl)
}

func (d *DatabaseDriver) set(ctx context.Context, key string, value any, ttl *time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	var prev *Item
	if p, ok, err := d.load(ctx, key); err != nil {
		return err
	} else if ok {
		prev = &p
	}
	item, err := newItem(key, value, prev, d.now(), ttl)
	if err != nil {
		return err
	}

	var expires sql.NullTime
	if item.ExpiresAt != nil {
		expires = sql.NullTime{Time: item.ExpiresAt.UTC(), Valid: true}
	}
	query := `INSERT INTO storage_items (item_key, value, created_at, updated_at, expires_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(item_key) DO UPDATE SET
                  value = excluded.value, created_at = excluded.created_at,
                  updated_at = excluded.updated_at, expires_at = excluded.expires_at`
	if d.db.Driver() == "mysql" {
		query = `INSERT INTO storage_items (item_key, value, created_at, updated_at, expires_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON DUPLICATE KEY UPDATE
                     value = VALUES(value), created_at = VALUES(created_at),
                     updated_at = VALUES(updated_at), expires_at = VALUES(expires_at)`
	}
	_, err = d.db.ExecContext(ctx, query, key, string(item.Value), item.CreatedAt.UTC(), item.UpdatedAt.UTC(), expires)
	if err != nil {
		return fmt.Errorf("failed to store %q: %w", key, err)
	}
	return nil
}

func (d *DatabaseDriver) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM storage_items WHERE item_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (d *DatabaseDriver) Clear(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM storage_items`); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	return nil
}

func (d *DatabaseDriver) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := GlobToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT item_key FROM storage_items WHERE expires_at IS NULL OR expires_at > ? ORDER BY item_key`, d.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (d *DatabaseDriver) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var raw json.RawMessage
		found, err := d.Get(ctx, key, &raw)
		if err != nil {
			return nil, err
		}
		if found {
			out[key] = raw
		}
	}
	return out, nil
}

func (d *DatabaseDriver) SetMany(ctx context.Context, values map[string]any) error {
	for key, value := range values {
		if err := d.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *DatabaseDriver) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
		args = append(args, key)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	if _, err := d.db.ExecContext(ctx, `DELETE FROM storage_items WHERE item_key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// load returns the live item at key. Expired rows are removed on read.
func (d *DatabaseDriver) load(ctx context.Context, key string) (Item, bool, error) {
	var (
		value   string
		expires sql.NullTime
		item    = Item{Key: key}
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT value, created_at, updated_at, expires_at FROM storage_items WHERE item_key = ?`, key,
	).Scan(&value, &item.CreatedAt, &item.UpdatedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if !json.Valid([]byte(value)) {
		return Item{}, false, fmt.Errorf("%w: %q", ErrCorrupt, key)
	}
	item.Value = json.RawMessage(value)
	if expires.Valid {
		exp := expires.Time
		item.ExpiresAt = &exp
	}
	if item.Expired(d.now()) {
		if _, err := d.db.ExecContext(ctx, `DELETE FROM storage_items WHERE item_key = ?`, key); err != nil {
			return Item{}, false, fmt.Errorf("failed to drop expired %q: %w", key, err)
		}
		return Item{}, false, nil
	}
	return item, true, nil
}
