package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tasksync/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("record not found")

type DB struct {
	*sql.DB
	driver string
	logger zerolog.Logger
	now    func() time.Time
}

// Open connects to the configured relational database and applies the schema.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "", "sqlite3":
		return NewDB(cfg.Source(), logger)
	case "mysql":
		return NewMySQL(cfg.Source(), logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens a sqlite database at path, creating parent directories as needed.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	return initDB(sqlDB, "sqlite3", path, logger)
}

// NewMySQL opens a MySQL database. parseTime is forced so DATETIME columns scan into time.Time.
func NewMySQL(dsn string, logger *zerolog.Logger) (*DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	sqlDB, err := sql.Open("mysql", mcfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return initDB(sqlDB, "mysql", mcfg.Addr+"/"+mcfg.DBName, logger)
}

func initDB(sqlDB *sql.DB, driver, source string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	db := &DB{
		DB:     sqlDB,
		driver: driver,
		logger: logger.With().Str("component", "database").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.logger.Info().Str("driver", driver).Str("source", source).Msg("Database initialized")
	return db, nil
}

// Driver returns the sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) migrate(ctx context.Context) error {
	queries := sqliteSchema
	if db.driver == "mysql" {
		queries = mysqlSchema
	}
	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so re-running the schema reports duplicates.
func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1061
	}
	return strings.Contains(err.Error(), "already exists")
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS task_sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		data TEXT,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed')),
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		synced_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_sync_queue_status ON task_sync_queue(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		feature TEXT,
		version TEXT,
		tags TEXT,
		estimated_hours REAL,
		actual_hours REAL,
		notes TEXT,
		external_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE TABLE IF NOT EXISTS storage_items (
		item_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		expires_at DATETIME
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS task_sync_queue (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		operation VARCHAR(16) NOT NULL,
		entity_type VARCHAR(64) NOT NULL,
		entity_id VARCHAR(191) NOT NULL,
		data JSON,
		status ENUM('pending', 'completed', 'failed') NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		synced_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE INDEX idx_task_sync_queue_status ON task_sync_queue(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		priority VARCHAR(16) NOT NULL DEFAULT 'medium',
		feature VARCHAR(255),
		version VARCHAR(64),
		tags JSON,
		estimated_hours DOUBLE,
		actual_hours DOUBLE,
		notes TEXT,
		external_id VARCHAR(64),
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE INDEX idx_tasks_status ON tasks(status)`,
	`CREATE TABLE IF NOT EXISTS storage_items (
		item_key VARCHAR(191) PRIMARY KEY,
		value LONGTEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
