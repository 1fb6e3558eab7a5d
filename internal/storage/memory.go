package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryDriver keeps envelopes in process memory. It backs the failover driver when
// neither the disk nor redis is usable.
type MemoryDriver struct {
	mu    sync.Mutex
	items map[string]Item
	now   func() time.Time
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{items: make(map[string]Item), now: time.Now}
}

func (d *MemoryDriver) WithClock(now func() time.Time) *MemoryDriver {
	d.now = now
	return d
}

func (d *MemoryDriver) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	d.mu.Lock()
	item, ok := d.live(key)
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decodeInto(item, dst)
}

func (d *MemoryDriver) Has(ctx context.Context, key string) (bool, error) {
	return d.Get(ctx, key, nil)
}

func (d *MemoryDriver) Set(ctx context.Context, key string, value any) error {
	return d.set(key, value, nil)
}

func (d *MemoryDriver) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return d.set(key, value, &ttl)
}

func (d *MemoryDriver) set(key string, value any, ttl *time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var prev *Item
	if p, ok := d.live(key); ok {
		prev = &p
	}
	item, err := newItem(key, value, prev, d.now(), ttl)
	if err != nil {
		return err
	}
	d.items[key] = item
	return nil
}

func (d *MemoryDriver) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.items, key)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDriver) Clear(ctx context.Context) error {
	d.mu.Lock()
	d.items = make(map[string]Item)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDriver) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := GlobToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var keys []string
	for key := range d.items {
		if _, ok := d.live(key); ok && re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *MemoryDriver) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
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

func (d *MemoryDriver) SetMany(ctx context.Context, values map[string]any) error {
	for key, value := range values {
		if err := d.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *MemoryDriver) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// live returns the item at key unless it expired, in which case it is dropped.
func (d *MemoryDriver) live(key string) (Item, bool) {
	item, ok := d.items[key]
	if !ok {
		return Item{}, false
	}
	if item.Expired(d.now()) {
		delete(d.items, key)
		return Item{}, false
	}
	return item, true
}
