package detect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tasksync/internal/models"
	"tasksync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err   error
	panic bool
	calls atomic.Int32
}

func (p *fakePinger) PingContext(context.Context) error {
	p.calls.Add(1)
	if p.panic {
		panic("driver exploded")
	}
	return p.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func hubServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/api/status" {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDetect_AllAvailable(t *testing.T) {
	hub, _ := hubServer(t, http.StatusOK)
	d := New(Options{
		DB:      &fakePinger{},
		Storage: storage.NewMemoryDriver(),
		HubURL:  hub.URL,
		Context: ContextCLI,
	})

	snap := d.Detect(context.Background())
	assert.True(t, snap.Has(models.FeatureOnline))
	assert.True(t, snap.Has(models.FeatureDatabase))
	assert.True(t, snap.Has(models.FeatureLocalStorage))
	assert.True(t, snap.Has(models.FeatureHubService))
	assert.False(t, snap.Has(models.FeatureIndexedDB))
	assert.Len(t, snap.Features, len(models.Features))
}

func TestDetect_DatabaseErrorsNeverRaise(t *testing.T) {
	ctx := context.Background()

	t.Run("Error", func(t *testing.T) {
		d := New(Options{DB: &fakePinger{err: errors.New("connection refused")}})
		assert.False(t, d.HasFeature(ctx, models.FeatureDatabase))
	})

	t.Run("Panic", func(t *testing.T) {
		d := New(Options{DB: &fakePinger{panic: true}})
		assert.NotPanics(t, func() {
			assert.False(t, d.HasFeature(ctx, models.FeatureDatabase))
		})
	})

	t.Run("NoDatabase", func(t *testing.T) {
		d := New(Options{})
		assert.False(t, d.HasFeature(ctx, models.FeatureDatabase))
	})
}

func TestDetect_Online(t *testing.T) {
	ctx := context.Background()

	t.Run("ServerContextSkipsProbe", func(t *testing.T) {
		check, hits := hubServer(t, http.StatusOK)
		d := New(Options{Context: ContextServer, NetworkCheckURL: check.URL})
		assert.True(t, d.HasFeature(ctx, models.FeatureOnline))
		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("AnyResponseIsOnline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		d := New(Options{NetworkCheckURL: srv.URL})
		assert.True(t, d.HasFeature(ctx, models.FeatureOnline))
	})

	t.Run("UnreachableIsOffline", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		d := New(Options{NetworkCheckURL: url, Timeout: time.Second})
		assert.False(t, d.HasFeature(ctx, models.FeatureOnline))
	})

	t.Run("FallsBackToHubURL", func(t *testing.T) {
		hub, hits := hubServer(t, http.StatusOK)
		d := New(Options{HubURL: hub.URL})
		assert.True(t, d.HasFeature(ctx, models.FeatureOnline))
		assert.GreaterOrEqual(t, hits.Load(), int32(1))
	})

	t.Run("NoURLAssumesOnline", func(t *testing.T) {
		d := New(Options{})
		assert.True(t, d.HasFeature(ctx, models.FeatureOnline))
	})

	t.Run("SlowProbeTimesOut", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		d := New(Options{NetworkCheckURL: srv.URL, Timeout: 50 * time.Millisecond})
		start := time.Now()
		assert.False(t, d.HasFeature(ctx, models.FeatureOnline))
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestDetect_Hub(t *testing.T) {
	ctx := context.Background()

	t.Run("NonOKIsUnavailable", func(t *testing.T) {
		hub, _ := hubServer(t, http.StatusInternalServerError)
		d := New(Options{HubURL: hub.URL})
		assert.False(t, d.HasFeature(ctx, models.FeatureHubService))
	})

	t.Run("NoHubConfigured", func(t *testing.T) {
		d := New(Options{})
		assert.False(t, d.HasFeature(ctx, models.FeatureHubService))
	})

	t.Run("SendsAPIKey", func(t *testing.T) {
		var got atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/status" {
				got.Store(r.Header.Get("X-API-Key"))
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := New(Options{HubURL: srv.URL + "/", HubAPIKey: "secret"})
		assert.True(t, d.HasFeature(ctx, models.FeatureHubService))
		assert.Equal(t, "secret", got.Load())
	})
}

func TestDetect_LocalStorageAndBrowser(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryDriver()

	d := New(Options{Storage: mem, Context: ContextBrowser})
	snap := d.Detect(ctx)
	assert.True(t, snap.Has(models.FeatureLocalStorage))
	assert.True(t, snap.Has(models.FeatureIndexedDB))

	has, err := mem.Has(ctx, probeKey)
	require.NoError(t, err)
	assert.False(t, has, "probe marker must be removed")

	assert.False(t, New(Options{}).HasFeature(ctx, models.FeatureLocalStorage))
}

func TestDetect_CacheHonoursTTL(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	db := &fakePinger{}
	d := New(Options{DB: db, TTL: time.Hour, Now: c.now})

	assert.True(t, d.HasFeature(ctx, models.FeatureDatabase))
	assert.True(t, d.HasFeature(ctx, models.FeatureDatabase))
	assert.Equal(t, int32(1), db.calls.Load())

	c.t = c.t.Add(59 * time.Minute)
	d.HasFeature(ctx, models.FeatureDatabase)
	assert.Equal(t, int32(1), db.calls.Load())

	c.t = c.t.Add(time.Minute)
	d.HasFeature(ctx, models.FeatureDatabase)
	assert.Equal(t, int32(2), db.calls.Load())

	// A cached true survives a backend failure until the snapshot goes stale.
	db.err = errors.New("gone")
	assert.True(t, d.HasFeature(ctx, models.FeatureDatabase))

	d.Invalidate()
	assert.False(t, d.HasFeature(ctx, models.FeatureDatabase))
	assert.Equal(t, int32(3), db.calls.Load())

	// Detect always probes.
	d.Detect(ctx)
	assert.Equal(t, int32(4), db.calls.Load())
}
