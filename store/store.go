// Package store wraps the SQLite database for all healthcoach persistence:
// the curated knowledge corpus with its vector index, user health logs,
// and the suggestion audit log.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
}

// UserLog is one immutable health observation for a user.
type UserLog struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Timestamp       time.Time `json:"timestamp"`
	ActivityMinutes int       `json:"activity_minutes"`
	SleepHours      float64   `json:"sleep_hours"`
	WaterIntakeML   int       `json:"water_intake_ml"`
	Calories        int       `json:"calories"`
	HeartRate       int       `json:"heart_rate"`
	Steps           int       `json:"steps"`
	Mood            string    `json:"mood"`
}

// SuggestionRecord is a served suggestion kept for audit.
type SuggestionRecord struct {
	SuggestionID string  `json:"suggestion_id"`
	RequestID    string  `json:"request_id"`
	UserID       string  `json:"user_id"`
	Category     string  `json:"category"`
	Text         string  `json:"text"`
	Reasoning    string  `json:"reasoning"`
	Score        float64 `json:"score"`
}

// ScoredChunk holds a chunk with its similarity score and document info.
type ScoredChunk struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Position   int     `json:"position"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}

// Store wraps the SQLite database. Safe for concurrent readers; the
// knowledge index build step is not and must complete before queries.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document / chunk operations ---

// UpsertDocument inserts or updates a document record keyed by source.
// Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (source, title, content_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			title = excluded.title,
			content_hash = excluded.content_hash,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Source, doc.Title, doc.ContentHash); err != nil {
		return 0, err
	}

	// last_insert_rowid() is not updated when the UPSERT takes the
	// DO UPDATE branch, so the id must always be resolved by source.
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE source = ?", doc.Source).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetDocumentBySource retrieves a document by its source identifier.
func (s *Store) GetDocumentBySource(ctx context.Context, source string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, content_hash, created_at, updated_at
		FROM documents WHERE source = ?
	`, source).Scan(&doc.ID, &doc.Source, &doc.Title, &doc.ContentHash,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by id.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, content_hash, created_at, updated_at
		FROM documents ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Source, &d.Title, &d.ContentHash,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocumentData removes all chunks and embeddings for a document,
// used before re-indexing a changed source.
func (s *Store) DeleteDocumentData(ctx context.Context, documentID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, documentID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
		return err
	})
}

// InsertChunks stores chunks in order and returns their IDs. Insertion
// order defines the score tie-break ordering for vector queries.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, 0, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO chunks (document_id, position, content) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			res, err := stmt.ExecContext(ctx, c.DocumentID, c.Position, c.Content)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ChunkCount returns the number of indexed chunks with embeddings.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_chunks").Scan(&n)
	return n, err
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search returning the top-k nearest chunks.
// Scores are cosine similarity (1 - cosine distance), descending; equal
// scores are ordered by chunk id, i.e. insertion order.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]ScoredChunk, error) {
	// vec0 KNN queries allow only a bare "ORDER BY distance", so the KNN
	// runs in a materialized CTE (to stop SQLite from flattening it) and
	// the chunk-id tie-break is applied outside it.
	rows, err := s.db.QueryContext(ctx, `
		WITH v AS MATERIALIZED (
			SELECT chunk_id, distance
			FROM vec_chunks
			WHERE embedding MATCH ? AND k = ?
			ORDER BY distance
		)
		SELECT v.chunk_id, v.distance,
			c.content, c.position, c.document_id, d.source
		FROM v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		ORDER BY v.distance, v.chunk_id
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var r ScoredChunk
		var distance float64
		if err := rows.Scan(&r.ChunkID, &distance,
			&r.Content, &r.Position, &r.DocumentID, &r.Source); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- User log operations ---

// InsertUserLog appends a health observation.
func (s *Store) InsertUserLog(ctx context.Context, log UserLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_logs (
			user_id, timestamp, activity_minutes, sleep_hours,
			water_intake_ml, calories, heart_rate, steps, mood
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.UserID, log.Timestamp.UTC().Format(time.RFC3339),
		log.ActivityMinutes, log.SleepHours, log.WaterIntakeML,
		log.Calories, log.HeartRate, log.Steps, log.Mood)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentUserLogs returns the newest logs for a user, descending by
// timestamp, at most limit entries.
func (s *Store) RecentUserLogs(ctx context.Context, userID string, limit int) ([]UserLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, timestamp, activity_minutes, sleep_hours,
			water_intake_ml, calories, heart_rate, steps, mood
		FROM user_logs
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []UserLog
	for rows.Next() {
		var l UserLog
		var ts string
		var mood sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &ts, &l.ActivityMinutes,
			&l.SleepHours, &l.WaterIntakeML, &l.Calories, &l.HeartRate,
			&l.Steps, &mood); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			l.Timestamp = t
		}
		l.Mood = mood.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Suggestion audit log ---

// LogSuggestions records served suggestions. Failures are not fatal to
// the request; the caller decides whether to log the error.
func (s *Store) LogSuggestions(ctx context.Context, recs []SuggestionRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO suggestions (suggestion_id, request_id, user_id, category, text, reasoning, score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range recs {
			if _, err := stmt.ExecContext(ctx, r.SuggestionID, r.RequestID, r.UserID,
				r.Category, r.Text, r.Reasoning, r.Score); err != nil {
				return err
			}
		}
		return nil
	})
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
