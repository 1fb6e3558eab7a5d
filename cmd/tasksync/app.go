package main

import (
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/detect"
	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/logging"
	"tasksync/internal/offline"
	"tasksync/internal/provider"
	"tasksync/internal/queue"
	"tasksync/internal/service"
	"tasksync/internal/storage"
	"tasksync/internal/taskstore"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg         *config.Config
	logger      *zerolog.Logger
	db          *database.DB
	storage     storage.Driver
	detector    *detect.Detector
	bus         *events.EventBus
	coordinator *offline.Coordinator
	tasks       *service.TaskService
	closers     []io.Closer
}

func newApp(v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl := v.GetString("log_level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	// The database is optional: without it records go to the file queue.
	if db, err := database.Open(cfg.Database, logger); err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Database.Driver).Msg("Database unavailable, using file queue")
	} else {
		a.db = db
		a.closers = append(a.closers, db)
	}

	var redisClient *redis.Client
	if cfg.Storage.Driver == "redis" {
		redisClient = storage.NewRedisClient(cfg.Redis)
		a.closers = append(a.closers, redisClient)
	}
	a.storage, err = storage.New(cfg.Storage, redisClient, a.db, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var pinger detect.Pinger
	var dbQueue domain.SyncStore
	if a.db != nil {
		pinger = a.db
		dbQueue = database.NewSyncQueueStore(a.db)
	}
	a.detector = detect.NewFromConfig(cfg, pinger, a.storage, logger)

	repo := a.taskRepository()

	prov, err := provider.New(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Sync provider unavailable")
		prov = nil
	}

	a.bus = events.NewEventBus()
	a.coordinator = offline.New(offline.Options{
		Config:    cfg.Sync,
		Features:  a.detector,
		Database:  dbQueue,
		FileQueue: queue.NewFileStore(cfg.Sync.QueuePath),
		Provider:  prov,
		Tasks:     repo,
		Storage:   a.storage,
		Bus:       a.bus,
		Logger:    logger,
	})
	a.coordinator.Subscribe(a.bus)
	a.tasks = service.NewTaskService(repo, a.bus, logger)

	return a, nil
}

func (a *app) taskRepository() domain.TaskRepository {
	if a.cfg.Tasks.Driver == "database" {
		if a.db != nil {
			return database.NewTaskStore(a.db)
		}
		a.logger.Warn().Str("path", a.cfg.Tasks.Path).Msg("tasks.driver=database without a database, using task file")
	}
	return taskstore.NewFileStore(a.cfg.Tasks.Path)
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
