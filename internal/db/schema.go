package db

// PostgresSchema creates the history tables when they are missing.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	elapsed_ms  BIGINT NOT NULL,
	total       INTEGER NOT NULL,
	validated   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL,
	result      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches (started_at DESC);

CREATE TABLE IF NOT EXISTS unit_outcomes (
	id          TEXT PRIMARY KEY,
	batch_id    UUID NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	unit_id     TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	state       TEXT NOT NULL,
	profit      TEXT,
	metrics     JSONB
);

CREATE INDEX IF NOT EXISTS idx_unit_outcomes_unit ON unit_outcomes (unit_id, id DESC);
`

// SQLiteSchema is PostgresSchema in SQLite's dialect.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	elapsed_ms  INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	validated   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL,
	result      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches (started_at DESC);

CREATE TABLE IF NOT EXISTS unit_outcomes (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	unit_id     TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	state       TEXT NOT NULL,
	profit      TEXT,
	metrics     TEXT
);

CREATE INDEX IF NOT EXISTS idx_unit_outcomes_unit ON unit_outcomes (unit_id, id DESC);
`
