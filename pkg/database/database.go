package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)

	"github.com/sciffer/beermqtt/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// sqlx does not know modernc's driver name; without this Rebind and In
	// would treat it as an unknown bind type.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB wraps a database connection with driver information
type DB struct {
	*sqlx.DB
	driver string
	logger *zap.Logger
}

// NewDB opens the store and runs migrations.
// Uses PostgreSQL if cfg.DSN is set, otherwise SQLite at cfg.Path.
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	var db *sql.DB
	var driver string
	var err error

	if cfg.DSN != "" {
		db, err = sql.Open(DriverPostgres, cfg.DSN)
		driver = DriverPostgres
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		logger.Info("connected to PostgreSQL database")
	} else {
		dbPath := cfg.Path
		if dbPath == "" {
			dbPath = "./beermqtt.db"
		}
		// foreign_keys must be on for every connection or cascades silently stop working
		db, err = sql.Open(DriverSQLite, dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		driver = DriverSQLite
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		logger.Info("connected to SQLite database", zap.String("path", dbPath))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     sqlx.NewDb(db, driver),
		driver: driver,
		logger: logger,
	}

	if err := database.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return database, nil
}

// Driver returns the name of the SQL driver in use
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Ping reports whether the store is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrate runs database migrations in version order
func (db *DB) Migrate() error {
	db.logger.Info("running database migrations")

	createVersionTable := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	db.logger.Info("current schema version", zap.Int("version", currentVersion))

	migrations := getMigrations(db.driver)
	versions := make([]int, 0, len(migrations))
	for version := range migrations {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= currentVersion {
			continue
		}

		db.logger.Info("applying migration", zap.Int("version", version))

		if _, err := db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}

		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("failed to record migration version %d: %w", version, err)
		}

		db.logger.Info("migration applied successfully", zap.Int("version", version))
	}

	db.logger.Info("database migrations completed")
	return nil
}

// getMigrations returns a map of version -> SQL migration for the driver
func getMigrations(driver string) map[int]string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return map[int]string{
		1: hivesSchema,
		2: fmt.Sprintf(metricsSchema, serial, serial),
	}
}

// hivesSchema holds device credentials. identifier and ip uniqueness is
// enforced here, never by a read-then-write check.
const hivesSchema = `
CREATE TABLE IF NOT EXISTS hives (
    id TEXT PRIMARY KEY,
    identifier VARCHAR(16) NOT NULL UNIQUE,
    ip VARCHAR(15) UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen TIMESTAMP
);
`

// metricsSchema holds reading batches. Metric ids increase with insertion and
// give the newest-first order.
const metricsSchema = `
CREATE TABLE IF NOT EXISTS metrics (
    id %s,
    hive_id TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (hive_id) REFERENCES hives(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_metrics_hive_id ON metrics(hive_id, id);

CREATE TABLE IF NOT EXISTS reads (
    id %s,
    metric_id BIGINT NOT NULL,
    sensor_id INTEGER NOT NULL CHECK (sensor_id BETWEEN 0 AND 40),
    value TEXT NOT NULL,
    kind VARCHAR(6) NOT NULL CHECK (kind IN ('number', 'string')),
    FOREIGN KEY (metric_id) REFERENCES metrics(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_reads_metric_id ON reads(metric_id);
`
