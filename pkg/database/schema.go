package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// InitSchema creates the activity tables and indexes for the configured
// driver. Each engine gets its own DDL block: types and constraint syntax
// differ enough that a shared template would be harder to read than three
// explicit schemas. The uniqueness of content_fingerprint and the
// activity→children cascade are required by the import contract on every
// driver.
func (db *Database) InitSchema(cfg Config) error {
	var (
		schema     string
		statements []string
	)

	switch normalizeDBType(cfg.DBType) {
	case "pgx":
		// PostgreSQL — named UNIQUE so writes can target it, real foreign
		// keys with ON DELETE CASCADE.
		schema = `
CREATE TABLE IF NOT EXISTS activities (
  id                  BIGINT PRIMARY KEY,
  external_id         TEXT,
  content_fingerprint TEXT NOT NULL,
  source_format       TEXT NOT NULL,
  sport               TEXT,
  sub_sport           TEXT,
  start_time          BIGINT NOT NULL,
  local_timezone      TEXT,
  elapsed_time_s      DOUBLE PRECISION NOT NULL,
  moving_time_s       DOUBLE PRECISION,
  distance_m          DOUBLE PRECISION,
  avg_speed_mps       DOUBLE PRECISION,
  avg_pace_s_per_km   DOUBLE PRECISION,
  avg_heart_rate      INTEGER,
  max_heart_rate      INTEGER,
  avg_power_w         DOUBLE PRECISION,
  max_power_w         DOUBLE PRECISION,
  elevation_gain_m    DOUBLE PRECISION,
  elevation_loss_m    DOUBLE PRECISION,
  calories            INTEGER,
  source_file_path    TEXT,
  ingested_at         BIGINT NOT NULL,
  CONSTRAINT activities_fingerprint_unique UNIQUE (content_fingerprint)
);

CREATE TABLE IF NOT EXISTS samples (
  id             BIGINT PRIMARY KEY,
  activity_id    BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  elapsed_time_s DOUBLE PRECISION NOT NULL,
  latitude       DOUBLE PRECISION,
  longitude      DOUBLE PRECISION,
  altitude_m     DOUBLE PRECISION,
  heart_rate     INTEGER,
  power_w        DOUBLE PRECISION,
  cadence        INTEGER,
  speed_mps      DOUBLE PRECISION,
  temperature_c  DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS route_points (
  id          BIGINT PRIMARY KEY,
  activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  sequence    INTEGER NOT NULL,
  latitude    DOUBLE PRECISION NOT NULL,
  longitude   DOUBLE PRECISION NOT NULL,
  altitude_m  DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS laps (
  id             BIGINT PRIMARY KEY,
  activity_id    BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  lap_index      INTEGER NOT NULL,
  start_time     BIGINT,
  elapsed_time_s DOUBLE PRECISION NOT NULL,
  distance_m     DOUBLE PRECISION,
  avg_speed_mps  DOUBLE PRECISION,
  avg_heart_rate INTEGER,
  max_heart_rate INTEGER,
  avg_power_w    DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities (start_time);
CREATE INDEX IF NOT EXISTS idx_activities_sport_start ON activities (sport, start_time);
CREATE INDEX IF NOT EXISTS idx_samples_activity_elapsed ON samples (activity_id, elapsed_time_s);
CREATE INDEX IF NOT EXISTS idx_route_points_activity_seq ON route_points (activity_id, sequence);
CREATE INDEX IF NOT EXISTS idx_laps_activity_index ON laps (activity_id, lap_index);
`

	case "sqlite", "chai":
		// SQLite-backed side — explicit INTEGER PK, uniqueness via index,
		// real FK cascades. Enforcement needs PRAGMA foreign_keys=ON per
		// connection; the delete transaction still removes children
		// explicitly so behavior matches connections without the pragma.
		schema = `
CREATE TABLE IF NOT EXISTS activities (
  id                  INTEGER PRIMARY KEY,
  external_id         TEXT,
  content_fingerprint TEXT NOT NULL,
  source_format       TEXT NOT NULL,
  sport               TEXT,
  sub_sport           TEXT,
  start_time          BIGINT NOT NULL,
  local_timezone      TEXT,
  elapsed_time_s      REAL NOT NULL,
  moving_time_s       REAL,
  distance_m          REAL,
  avg_speed_mps       REAL,
  avg_pace_s_per_km   REAL,
  avg_heart_rate      INTEGER,
  max_heart_rate      INTEGER,
  avg_power_w         REAL,
  max_power_w         REAL,
  elevation_gain_m    REAL,
  elevation_loss_m    REAL,
  calories            INTEGER,
  source_file_path    TEXT,
  ingested_at         BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_fingerprint
  ON activities (content_fingerprint);

CREATE TABLE IF NOT EXISTS samples (
  id             INTEGER PRIMARY KEY,
  activity_id    BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  elapsed_time_s REAL NOT NULL,
  latitude       REAL,
  longitude      REAL,
  altitude_m     REAL,
  heart_rate     INTEGER,
  power_w        REAL,
  cadence        INTEGER,
  speed_mps      REAL,
  temperature_c  REAL
);

CREATE TABLE IF NOT EXISTS route_points (
  id          INTEGER PRIMARY KEY,
  activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  sequence    INTEGER NOT NULL,
  latitude    REAL NOT NULL,
  longitude   REAL NOT NULL,
  altitude_m  REAL
);

CREATE TABLE IF NOT EXISTS laps (
  id             INTEGER PRIMARY KEY,
  activity_id    BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  lap_index      INTEGER NOT NULL,
  start_time     BIGINT,
  elapsed_time_s REAL NOT NULL,
  distance_m     REAL,
  avg_speed_mps  REAL,
  avg_heart_rate INTEGER,
  max_heart_rate INTEGER,
  avg_power_w    REAL
);

CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities (start_time);
CREATE INDEX IF NOT EXISTS idx_activities_sport_start ON activities (sport, start_time);
CREATE INDEX IF NOT EXISTS idx_samples_activity_elapsed ON samples (activity_id, elapsed_time_s);
CREATE INDEX IF NOT EXISTS idx_route_points_activity_seq ON route_points (activity_id, sequence);
CREATE INDEX IF NOT EXISTS idx_laps_activity_index ON laps (activity_id, lap_index);
`

	case "genji":
		// Genji's SQL dialect has no foreign key support, so child
		// integrity rides entirely on the delete transaction here.
		schema = `
CREATE TABLE IF NOT EXISTS activities (
  id                  INTEGER PRIMARY KEY,
  external_id         TEXT,
  content_fingerprint TEXT NOT NULL,
  source_format       TEXT NOT NULL,
  sport               TEXT,
  sub_sport           TEXT,
  start_time          BIGINT NOT NULL,
  local_timezone      TEXT,
  elapsed_time_s      REAL NOT NULL,
  moving_time_s       REAL,
  distance_m          REAL,
  avg_speed_mps       REAL,
  avg_pace_s_per_km   REAL,
  avg_heart_rate      INTEGER,
  max_heart_rate      INTEGER,
  avg_power_w         REAL,
  max_power_w         REAL,
  elevation_gain_m    REAL,
  elevation_loss_m    REAL,
  calories            INTEGER,
  source_file_path    TEXT,
  ingested_at         BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_fingerprint
  ON activities (content_fingerprint);

CREATE TABLE IF NOT EXISTS samples (
  id             INTEGER PRIMARY KEY,
  activity_id    BIGINT NOT NULL,
  elapsed_time_s REAL NOT NULL,
  latitude       REAL,
  longitude      REAL,
  altitude_m     REAL,
  heart_rate     INTEGER,
  power_w        REAL,
  cadence        INTEGER,
  speed_mps      REAL,
  temperature_c  REAL
);

CREATE TABLE IF NOT EXISTS route_points (
  id          INTEGER PRIMARY KEY,
  activity_id BIGINT NOT NULL,
  sequence    INTEGER NOT NULL,
  latitude    REAL NOT NULL,
  longitude   REAL NOT NULL,
  altitude_m  REAL
);

CREATE TABLE IF NOT EXISTS laps (
  id             INTEGER PRIMARY KEY,
  activity_id    BIGINT NOT NULL,
  lap_index      INTEGER NOT NULL,
  start_time     BIGINT,
  elapsed_time_s REAL NOT NULL,
  distance_m     REAL,
  avg_speed_mps  REAL,
  avg_heart_rate INTEGER,
  max_heart_rate INTEGER,
  avg_power_w    REAL
);

CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities (start_time);
CREATE INDEX IF NOT EXISTS idx_activities_sport_start ON activities (sport, start_time);
CREATE INDEX IF NOT EXISTS idx_samples_activity_elapsed ON samples (activity_id, elapsed_time_s);
CREATE INDEX IF NOT EXISTS idx_route_points_activity_seq ON route_points (activity_id, sequence);
CREATE INDEX IF NOT EXISTS idx_laps_activity_index ON laps (activity_id, lap_index);
`

	case "duckdb":
		// DuckDB — no AUTOINCREMENT and limited FK support, so rows carry
		// generator-assigned IDs and cascades run in the delete
		// transaction. Statements run one by one: DuckDB's Exec dislikes
		// some multi-statement batches.
		statements = []string{
			`CREATE TABLE IF NOT EXISTS activities (
  id                  BIGINT PRIMARY KEY,
  external_id         TEXT,
  content_fingerprint TEXT NOT NULL,
  source_format       TEXT NOT NULL,
  sport               TEXT,
  sub_sport           TEXT,
  start_time          BIGINT NOT NULL,
  local_timezone      TEXT,
  elapsed_time_s      DOUBLE NOT NULL,
  moving_time_s       DOUBLE,
  distance_m          DOUBLE,
  avg_speed_mps       DOUBLE,
  avg_pace_s_per_km   DOUBLE,
  avg_heart_rate      INTEGER,
  max_heart_rate      INTEGER,
  avg_power_w         DOUBLE,
  max_power_w         DOUBLE,
  elevation_gain_m    DOUBLE,
  elevation_loss_m    DOUBLE,
  calories            INTEGER,
  source_file_path    TEXT,
  ingested_at         BIGINT NOT NULL,
  CONSTRAINT activities_fingerprint_unique UNIQUE (content_fingerprint)
);`,
			`CREATE TABLE IF NOT EXISTS samples (
  id             BIGINT PRIMARY KEY,
  activity_id    BIGINT NOT NULL,
  elapsed_time_s DOUBLE NOT NULL,
  latitude       DOUBLE,
  longitude      DOUBLE,
  altitude_m     DOUBLE,
  heart_rate     INTEGER,
  power_w        DOUBLE,
  cadence        INTEGER,
  speed_mps      DOUBLE,
  temperature_c  DOUBLE
);`,
			`CREATE TABLE IF NOT EXISTS route_points (
  id          BIGINT PRIMARY KEY,
  activity_id BIGINT NOT NULL,
  sequence    INTEGER NOT NULL,
  latitude    DOUBLE NOT NULL,
  longitude   DOUBLE NOT NULL,
  altitude_m  DOUBLE
);`,
			`CREATE TABLE IF NOT EXISTS laps (
  id             BIGINT PRIMARY KEY,
  activity_id    BIGINT NOT NULL,
  lap_index      INTEGER NOT NULL,
  start_time     BIGINT,
  elapsed_time_s DOUBLE NOT NULL,
  distance_m     DOUBLE,
  avg_speed_mps  DOUBLE,
  avg_heart_rate INTEGER,
  max_heart_rate INTEGER,
  avg_power_w    DOUBLE
);`,
			`CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities (start_time);`,
			`CREATE INDEX IF NOT EXISTS idx_activities_sport_start ON activities (sport, start_time);`,
			`CREATE INDEX IF NOT EXISTS idx_samples_activity_elapsed ON samples (activity_id, elapsed_time_s);`,
			`CREATE INDEX IF NOT EXISTS idx_route_points_activity_seq ON route_points (activity_id, sequence);`,
			`CREATE INDEX IF NOT EXISTS idx_laps_activity_index ON laps (activity_id, lap_index);`,
		}

	default:
		return fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	if len(statements) > 0 {
		if err := execStatements(db.DB, statements); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		return nil
	}
	if _, err := db.DB.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// execStatements runs DDL one statement at a time for engines that do not
// accept multi-statement Exec calls.
func execStatements(db *sql.DB, stmts []string) error {
	for _, raw := range stmts {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
