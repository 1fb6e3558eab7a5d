// Package detect probes which optional subsystems are reachable and caches the result.
package detect

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/storage"

	"github.com/rs/zerolog"
)

// ExecutionContext tells the detector where the process runs.
type ExecutionContext string

const (
	ContextServer  ExecutionContext = "server"
	ContextCLI     ExecutionContext = "cli"
	ContextBrowser ExecutionContext = "browser"
)

const probeKey = "detect/probe"

// Pinger is satisfied by *sql.DB and *database.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	DB              Pinger
	Storage         storage.Driver
	HTTPClient      *http.Client
	NetworkCheckURL string
	HubURL          string
	HubAPIKey       string
	Context         ExecutionContext
	TTL             time.Duration
	Timeout         time.Duration
	Now             func() time.Time
	Logger          *zerolog.Logger
}

// Detector owns the feature cache. Callers share one instance rather than a global.
type Detector struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger

	mu       sync.Mutex
	snapshot models.FeatureSnapshot
}

func New(opts Options) *Detector {
	if opts.TTL <= 0 {
		opts.TTL = models.DefaultFeatureTTL * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultProbeTimeout * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Context == "" {
		opts.Context = ContextCLI
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "detect").Logger()
	}
	return &Detector{opts: opts, client: client, logger: logger}
}

// NewFromConfig wires a detector from the detection and sync sections. db and store may be nil.
func NewFromConfig(cfg *config.Config, db Pinger, store storage.Driver, logger *zerolog.Logger) *Detector {
	return New(Options{
		DB:              db,
		Storage:         store,
		NetworkCheckURL: cfg.Detection.NetworkCheckURL,
		HubURL:          cfg.Sync.HubURL,
		HubAPIKey:       cfg.Sync.HubAPIKey,
		Context:         ExecutionContext(cfg.Detection.Context),
		TTL:             cfg.Detection.TTL(),
		Timeout:         cfg.Detection.ProbeTimeout(),
		Logger:          logger,
	})
}

// Detect probes every feature now and replaces the cached snapshot.
func (d *Detector) Detect(ctx context.Context) models.FeatureSnapshot {
	probes := map[models.Feature]func(context.Context) bool{
		models.FeatureOnline:       d.probeOnline,
		models.FeatureDatabase:     d.probeDatabase,
		models.FeatureLocalStorage: d.probeLocalStorage,
		models.FeatureHubService:   d.probeHub,
		models.FeatureIndexedDB:    d.probeIndexedDB,
	}

	results := make(map[models.Feature]bool, len(probes))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for feature, probe := range probes {
		wg.Add(1)
		go func(feature models.Feature, probe func(context.Context) bool) {
			defer wg.Done()
			ok := d.run(ctx, feature, probe)
			rmu.Lock()
			results[feature] = ok
			rmu.Unlock()
		}(feature, probe)
	}
	wg.Wait()

	snap := models.FeatureSnapshot{Features: results, CapturedAt: d.opts.Now()}
	for _, f := range models.Features {
		metrics.SetFeature(string(f), results[f])
	}

	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()

	d.logger.Debug().Interface("features", results).Msg("Feature detection completed")
	return snap
}

// Snapshot returns the cached snapshot, probing first if it is missing or stale.
func (d *Detector) Snapshot(ctx context.Context) models.FeatureSnapshot {
	d.mu.Lock()
	snap := d.snapshot
	d.mu.Unlock()

	if snap.Stale(d.opts.Now(), d.opts.TTL) {
		return d.Detect(ctx)
	}
	return snap
}

func (d *Detector) HasFeature(ctx context.Context, f models.Feature) bool {
	return d.Snapshot(ctx).Has(f)
}

// Invalidate drops the cached snapshot so the next query probes again.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	d.snapshot = models.FeatureSnapshot{}
	d.mu.Unlock()
}

// run executes one probe under the per-probe timeout. Panics count as unavailable.
func (d *Detector) run(ctx context.Context, feature models.Feature, probe func(context.Context) bool) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().Str("feature", string(feature)).Interface("panic", r).Msg("Feature probe panicked")
			ok = false
		}
	}()
	return probe(ctx)
}

func (d *Detector) probeOnline(ctx context.Context) bool {
	if d.opts.Context == ContextServer {
		return true
	}
	target := d.opts.NetworkCheckURL
	if target == "" {
		target = d.opts.HubURL
	}
	if target == "" {
		return true
	}
	resp, err := d.get(ctx, target)
	if err != nil {
		d.logger.Debug().Err(err).Str("url", target).Msg("Network check failed")
		return false
	}
	resp.Body.Close()
	return true
}

func (d *Detector) probeDatabase(ctx context.Context) bool {
	if d.opts.DB == nil {
		return false
	}
	if err := d.opts.DB.PingContext(ctx); err != nil {
		d.logger.Debug().Err(err).Msg("Database probe failed")
		return false
	}
	return true
}

func (d *Detector) probeLocalStorage(ctx context.Context) bool {
	if d.opts.Storage == nil {
		return false
	}
	if err := d.opts.Storage.Set(ctx, probeKey, d.opts.Now().UnixNano()); err != nil {
		d.logger.Debug().Err(err).Msg("Local storage probe failed")
		return false
	}
	if err := d.opts.Storage.Delete(ctx, probeKey); err != nil {
		d.logger.Debug().Err(err).Msg("Local storage probe cleanup failed")
		return false
	}
	return true
}

func (d *Detector) probeHub(ctx context.Context) bool {
	if d.opts.HubURL == "" {
		return false
	}
	resp, err := d.get(ctx, strings.TrimRight(d.opts.HubURL, "/")+"/api/status")
	if err != nil {
		d.logger.Debug().Err(err).Msg("Hub probe failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *Detector) probeIndexedDB(context.Context) bool {
	return d.opts.Context == ContextBrowser
}

func (d *Detector) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.opts.HubAPIKey != "" && d.opts.HubURL != "" && strings.HasPrefix(url, d.opts.HubURL) {
		req.Header.Set("X-API-Key", d.opts.HubAPIKey)
	}
	return d.client.Do(req)
}
