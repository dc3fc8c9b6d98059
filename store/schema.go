package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Curated knowledge documents with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    source TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Fixed-size slices of a document. Rowid order is insertion order and is
-- the tie-breaker for equal similarity scores.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    content TEXT NOT NULL
);

-- Vector index via sqlite-vec; cosine distance keeps scores in [-1,1]
-- after the 1-distance conversion.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Raw user health observations, append-only.
CREATE TABLE IF NOT EXISTS user_logs (
    id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    activity_minutes INTEGER,
    sleep_hours REAL,
    water_intake_ml INTEGER,
    calories INTEGER,
    heart_rate INTEGER,
    steps INTEGER,
    mood TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_logs_user_ts ON user_logs(user_id, timestamp DESC);

-- Served suggestions, kept for audit.
CREATE TABLE IF NOT EXISTS suggestions (
    suggestion_id TEXT PRIMARY KEY,
    request_id TEXT,
    user_id TEXT NOT NULL,
    timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    category TEXT,
    text TEXT,
    reasoning TEXT,
    score REAL
);
`, embeddingDim)
}
