// Package database owns the canonical relational schema for activities,
// samples, route points and laps, and the query surface the UI layer
// consumes. It speaks database/sql so one code path serves every driver
// the binary registers: sqlite, chai, genji, duckdb, pgx.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Database wraps the SQL connection together with the pieces queries need.
type Database struct {
	DB          *sql.DB
	Driver      string     // normalized driver name so SQL builders stay declarative
	idGenerator chan int64 // unique row IDs shared across tables
}

// Sentinel errors the import pipeline branches on.
var (
	// ErrDuplicateActivity reports a content fingerprint that is already
	// stored. It is an outcome, not a failure: the loser of a concurrent
	// import race sees it instead of a corrupt partial write.
	ErrDuplicateActivity = errors.New("activity already imported")

	// ErrNotFound reports a detail lookup for an unknown activity ID.
	ErrNotFound = errors.New("activity not found")

	// ErrStorage marks the store itself as unusable (disk full,
	// corruption). Callers abort rather than retry: a retry would not
	// change a full disk.
	ErrStorage = errors.New("storage failure")
)

// wrapStorage tags an infrastructure error with the ErrStorage sentinel
// while keeping the driver's message for the log line.
func wrapStorage(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// normalizeDBType trims and lowercases driver names so the switch blocks
// below cannot miss a driver because of incidental casing.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// startIDGenerator hands out unique row IDs over a channel. A dedicated
// goroutine keeps the counter race-free without a mutex.
func startIDGenerator(initialID int64) chan int64 {
	idChannel := make(chan int64)
	go func(start int64) {
		currentID := start
		for {
			idChannel <- currentID
			currentID++
		}
	}(initialID)
	return idChannel
}

// Config holds the connection details for every supported driver.
type Config struct {
	DBType    string // sqlite, chai, genji, duckdb, or pgx
	DBPath    string // file path for the embedded drivers
	DBConn    string // raw DSN override for pgx
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	PGSSLMode string
	Port      int // used in default database file naming
}

// NewDatabase opens the store and configures pooling. The embedded engines
// are capped to a single connection: they serialize writes anyway, and one
// stable connection keeps pragma tuning effective for the whole process.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	var (
		dsn                string
		applySQLitePragmas bool
	)

	switch driverName {
	case "sqlite":
		applySQLitePragmas = true
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("fittrail-%d.%s", config.Port, driverName)
		}
	case "chai", "genji":
		// Same file-path DSN shape as sqlite, but the driver manages its
		// own transaction and caching strategy, so pragma tuning is skipped.
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("fittrail-%d.%s", config.Port, driverName)
		}
	case "duckdb":
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("fittrail-%d.duckdb", config.Port)
		}
	case "pgx":
		if strings.TrimSpace(config.DBConn) != "" {
			dsn = config.DBConn
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName, config.PGSSLMode)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}

	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if applySQLitePragmas {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteConnection(tuneCtx, db); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		}
	}

	// Cheap liveness probe with a timeout so startup never hangs.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error connecting to the database: %w", err)
		}
	}

	return &Database{
		DB:          db,
		Driver:      driverName,
		idGenerator: startIDGenerator(bootstrapID(db)),
	}, nil
}

// bootstrapID seeds the generator above the highest ID across all tables.
// Errors are ignored so startup stays robust when tables are missing.
func bootstrapID(db *sql.DB) int64 {
	initialID := int64(1)
	for _, table := range []string{"activities", "samples", "route_points", "laps"} {
		var max sql.NullInt64
		_ = db.QueryRow(fmt.Sprintf(`SELECT MAX(id) FROM %s`, table)).Scan(&max)
		if max.Valid && max.Int64 >= initialID {
			initialID = max.Int64 + 1
		}
	}
	return initialID
}

// tuneSQLiteConnection applies WAL/synchronous/busy pragmas so bulk sample
// inserts stay fast without giving up durability, and switches foreign key
// enforcement on. The pool is capped at one connection, so the pragmas
// hold for the whole process.
func tuneSQLiteConnection(ctx context.Context, db *sql.DB) error {
	steps := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range steps {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	return nil
}

// newPlaceholderGenerator yields "$1, $2, ..." for pgx and "?" elsewhere,
// letting the query builders stay driver-agnostic.
func newPlaceholderGenerator(dbType string) func() string {
	if normalizeDBType(dbType) == "pgx" {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}

// isUniqueViolation recognizes the fingerprint uniqueness constraint firing
// across drivers: pgx reports SQLSTATE 23505, the embedded engines report
// it in message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "constraint error")
}

// Close releases the underlying connection pool.
func (db *Database) Close() error {
	return db.DB.Close()
}
