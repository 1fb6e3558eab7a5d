package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tasksync/internal/fsutil"
)

const fileExt = ".json"

// FileDriver stores one JSON envelope per key under a root directory.
type FileDriver struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileDriver(root string) (*FileDriver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileDriver{root: root, now: time.Now}, nil
}

// WithClock replaces the time source; used by tests to control expiry.
func (d *FileDriver) WithClock(now func() time.Time) *FileDriver {
	d.now = now
	return d
}

func (d *FileDriver) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key)+fileExt)
}

func (d *FileDriver) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok, err := d.load(key)
	if err != nil || !ok {
		return false, err
	}
	return true, decodeInto(item, dst)
}

func (d *FileDriver) Has(ctx context.Context, key string) (bool, error) {
	return d.Get(ctx, key, nil)
}

func (d *FileDriver) Set(ctx context.Context, key string, value any) error {
	return d.set(key, value, nil)
}

func (d *FileDriver) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return d.set(key, value, &ttl)
}

func (d *FileDriver) set(key string, value any, ttl *time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok, _ := d.load(key)
	var prevPtr *Item
	if ok {
		prevPtr = &prev
	}
	item, err := newItem(key, value, prevPtr, d.now(), ttl)
	if err != nil {
		return err
	}
	return d.write(item)
}

func (d *FileDriver) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remove(key)
}

func (d *FileDriver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("failed to read storage directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (d *FileDriver) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := GlobToRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var keys []string
	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			return nil
		}
		item, err := readItem(path)
		if err != nil {
			// Unreadable entries are skipped so one bad file does not hide the rest.
			return nil
		}
		if item.Expired(now) {
			_ = os.Remove(path)
			return nil
		}
		if re.MatchString(item.Key) {
			keys = append(keys, item.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *FileDriver) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
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

func (d *FileDriver) SetMany(ctx context.Context, values map[string]any) error {
	for key, value := range values {
		if err := d.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *FileDriver) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// load returns the live item for key, deleting it when expired. Caller holds d.mu.
func (d *FileDriver) load(key string) (Item, bool, error) {
	path := d.path(key)
	item, err := readItem(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	if item.Expired(d.now()) {
		_ = os.Remove(path)
		return Item{}, false, nil
	}
	return item, true, nil
}

func (d *FileDriver) write(item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode envelope for %q: %w", item.Key, err)
	}
	if err := fsutil.WriteFileAtomic(d.path(item.Key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", item.Key, err)
	}
	return nil
}

func (d *FileDriver) remove(key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func readItem(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return item, nil
}
