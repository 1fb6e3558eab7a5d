package storage

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/database"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// New builds the configured driver. Redis and the database are wrapped in a failover to
// memory so a lost connection degrades instead of failing local storage outright. The
// database driver falls back to files when no database could be opened.
func New(cfg config.StorageConfig, redisClient *redis.Client, db *database.DB, logger *zerolog.Logger) (Driver, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileDriver(cfg.Path)
	case "memory":
		return NewMemoryDriver(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("storage driver redis requires a redis client")
		}
		rd := NewRedisDriver(redisClient, cfg.Prefix)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rd.Ping(ctx); err != nil && logger != nil {
			logger.Warn().Err(err).Msg("Redis unreachable at startup")
		}
		return NewFailoverDriver(rd, NewMemoryDriver(), logger), nil
	case "database":
		if db == nil {
			if logger != nil {
				logger.Warn().Msg("Storage driver database has no database, using files")
			}
			return NewFileDriver(cfg.Path)
		}
		return NewFailoverDriver(NewDatabaseDriver(db), NewMemoryDriver(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
