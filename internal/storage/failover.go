package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverDriver writes to primary until it errors, then serves from fallback and
// retries primary once recoverAfter has passed.
type FailoverDriver struct {
	primary      Driver
	fallback     Driver
	logger       *zerolog.Logger
	recoverAfter time.Duration
	isDown       atomic.Bool
	lastCheck    atomic.Int64
	now          func() time.Time
}

func NewFailoverDriver(primary, fallback Driver, logger *zerolog.Logger) *FailoverDriver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverDriver{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: time.Minute,
		now:          time.Now,
	}
}

// Degraded reports whether requests are currently served by the fallback.
func (d *FailoverDriver) Degraded() bool {
	return d.isDown.Load()
}

// do runs fn against primary when healthy (or due for a recovery attempt) and falls
// back on error. Invalid keys are reported directly since the fallback would refuse them too.
func (d *FailoverDriver) do(fn func(Driver) error) error {
	if !d.isDown.Load() || d.now().Sub(time.Unix(0, d.lastCheck.Load())) > d.recoverAfter {
		err := fn(d.primary)
		if err == nil {
			if d.isDown.Swap(false) {
				d.logger.Info().Msg("Primary storage driver recovered")
			}
			return nil
		}
		if errors.Is(err, ErrInvalidKey) {
			return err
		}
		if !d.isDown.Swap(true) {
			d.logger.Error().Err(err).Msg("Primary storage driver failed, falling back")
		}
		d.lastCheck.Store(d.now().UnixNano())
	}
	return fn(d.fallback)
}

func (d *FailoverDriver) Get(ctx context.Context, key string, dst any) (bool, error) {
	var found bool
	err := d.do(func(drv Driver) error {
		var err error
		found, err = drv.Get(ctx, key, dst)
		return err
	})
	return found, err
}

func (d *FailoverDriver) Has(ctx context.Context, key string) (bool, error) {
	return d.Get(ctx, key, nil)
}

func (d *FailoverDriver) Set(ctx context.Context, key string, value any) error {
	return d.do(func(drv Driver) error { return drv.Set(ctx, key, value) })
}

func (d *FailoverDriver) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return d.do(func(drv Driver) error { return drv.SetWithTTL(ctx, key, value, ttl) })
}

func (d *FailoverDriver) Delete(ctx context.Context, key string) error {
	return d.do(func(drv Driver) error { return drv.Delete(ctx, key) })
}

func (d *FailoverDriver) Clear(ctx context.Context) error {
	return d.do(func(drv Driver) error { return drv.Clear(ctx) })
}

func (d *FailoverDriver) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := d.do(func(drv Driver) error {
		var err error
		keys, err = drv.Keys(ctx, pattern)
		return err
	})
	return keys, err
}

func (d *FailoverDriver) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	err := d.do(func(drv Driver) error {
		var err error
		out, err = drv.GetMany(ctx, keys)
		return err
	})
	return out, err
}

func (d *FailoverDriver) SetMany(ctx context.Context, values map[string]any) error {
	return d.do(func(drv Driver) error { return drv.SetMany(ctx, values) })
}

func (d *FailoverDriver) DeleteMany(ctx context.Context, keys []string) error {
	return d.do(func(drv Driver) error { return drv.DeleteMany(ctx, keys) })
}
