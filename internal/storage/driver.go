// Package storage provides the key/value persistence used as local offline storage.
//
// Every driver stores values inside an Item envelope so expiry and timestamps behave
// the same regardless of the backend. Keys may encode a hierarchy with "/".
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("storage: invalid key")
	ErrCorrupt    = errors.New("storage: corrupt entry")
)

// Driver is a key/value store with optional per-key expiry.
type Driver interface {
	// Get decodes the value stored at key into dst. It reports false when the key is
	// absent or expired; dst may be nil to only test presence.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// SetWithTTL stores value expiring after ttl. A ttl <= 0 stores an already expired item.
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	// Keys lists live keys matching a glob pattern ("*" and "?" wildcards).
	Keys(ctx context.Context, pattern string) ([]string, error)
	GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	SetMany(ctx context.Context, values map[string]any) error
	DeleteMany(ctx context.Context, keys []string) error
}

// Item is the envelope persisted for each key.
type Item struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the item is no longer readable at now.
func (i Item) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// GetOr returns the value at key, or def when it is absent, expired or unreadable.
func GetOr[T any](ctx context.Context, d Driver, key string, def T) T {
	var out T
	found, err := d.Get(ctx, key, &out)
	if err != nil || !found {
		return def
	}
	return out
}

// ValidateKey rejects keys that could escape a file-backed root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// GlobToRegexp translates a key glob into an anchored regular expression.
// "*" matches any run of characters including "/", "?" matches one character.
func GlobToRegexp(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = "*"
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func newItem(key string, value any, prev *Item, now time.Time, ttl *time.Duration) (Item, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Item{}, fmt.Errorf("encode value for %q: %w", key, err)
	}
	item := Item{Key: key, Value: raw, CreatedAt: now, UpdatedAt: now}
	if prev != nil && !prev.Expired(now) {
		item.CreatedAt = prev.CreatedAt
	}
	if ttl != nil {
		exp := now
		if *ttl > 0 {
			exp = now.Add(*ttl)
		}
		item.ExpiresAt = &exp
	}
	return item, nil
}

func decodeInto(item Item, dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(item.Value, dst); err != nil {
		return fmt.Errorf("decode value for %q: %w", item.Key, err)
	}
	return nil
}
