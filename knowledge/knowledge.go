// Package knowledge provides the semantic index over curated health
// document chunks. Building is an explicit one-shot step; once built the
// index is frozen and safe for concurrent query use.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/healthcoach/store"
)

var (
	// ErrInvalidQuery is returned for malformed queries: non-positive
	// top_k or an embedding whose dimensionality does not match the
	// index. Not retryable.
	ErrInvalidQuery = errors.New("knowledge: invalid query")

	// ErrNotBuilt is returned when Query is called before Build has
	// completed. The index is build-then-freeze: construction must finish
	// before any reads are served.
	ErrNotBuilt = errors.New("knowledge: index not built")
)

// Chunk is one bounded slice of a curated source document. Embedding may
// be nil on input to Build, in which case the embedder fills it in.
type Chunk struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Embedder is the slice of the llm provider the index needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the queryable semantic index. Construct with NewIndex, call
// Build exactly once per process (rebuilds of unchanged sources are
// no-ops), then Query from any goroutine.
type Index struct {
	store    *store.Store
	embedder Embedder
	ready    atomic.Bool
}

// NewIndex creates an index over the given store. The embedder is only
// used during Build.
func NewIndex(s *store.Store, embedder Embedder) *Index {
	return &Index{store: s, embedder: embedder}
}

// Ready reports whether Build has completed.
func (ix *Index) Ready() bool { return ix.ready.Load() }

// Build embeds and indexes the given chunks, grouped by source document.
// It is idempotent: a source whose combined content hash is unchanged is
// skipped, so rebuilding from the same set yields the same retrievable
// set. Build must complete before Query is called; it is not safe to run
// concurrently with readers.
func (ix *Index) Build(ctx context.Context, chunks []Chunk) error {
	bySource := make(map[string][]Chunk)
	var sources []string
	for _, c := range chunks {
		if _, seen := bySource[c.Source]; !seen {
			sources = append(sources, c.Source)
		}
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	sort.Strings(sources)

	start := time.Now()
	var indexed, skipped int

	for _, source := range sources {
		group := bySource[source]
		sort.Slice(group, func(i, j int) bool { return group[i].Position < group[j].Position })

		hash := contentHash(group)
		if existing, err := ix.store.GetDocumentBySource(ctx, source); err == nil && existing.ContentHash == hash {
			skipped++
			continue
		}

		if err := ix.indexSource(ctx, source, hash, group); err != nil {
			return fmt.Errorf("indexing %s: %w", source, err)
		}
		indexed += len(group)
	}

	ix.ready.Store(true)
	slog.Info("knowledge: index built",
		"chunks", indexed, "sources_skipped", skipped,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (ix *Index) indexSource(ctx context.Context, source, hash string, group []Chunk) error {
	title := group[0].Title
	if title == "" {
		title = source
	}

	docID, err := ix.store.UpsertDocument(ctx, store.Document{
		Source:      source,
		Title:       title,
		ContentHash: hash,
	})
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	// Re-index from scratch so a changed source never leaves stale chunks.
	if err := ix.store.DeleteDocumentData(ctx, docID); err != nil {
		return fmt.Errorf("clearing old chunks: %w", err)
	}

	rows := make([]store.Chunk, len(group))
	for i, c := range group {
		rows[i] = store.Chunk{DocumentID: docID, Position: c.Position, Content: c.Content}
	}
	ids, err := ix.store.InsertChunks(ctx, rows)
	if err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	embeddings, err := ix.embeddings(ctx, group)
	if err != nil {
		return err
	}

	dim := ix.store.EmbeddingDim()
	for i, emb := range embeddings {
		if len(emb) != dim {
			return fmt.Errorf("%w: chunk embedding dim %d, index dim %d",
				ErrInvalidQuery, len(emb), dim)
		}
		if err := ix.store.InsertEmbedding(ctx, ids[i], emb); err != nil {
			return fmt.Errorf("storing embedding: %w", err)
		}
	}
	return nil
}

// embeddings returns one vector per chunk, batching texts whose
// embedding was not supplied by the caller.
func (ix *Index) embeddings(ctx context.Context, group []Chunk) ([][]float32, error) {
	out := make([][]float32, len(group))
	var missing []int
	var texts []string
	for i, c := range group {
		if c.Embedding != nil {
			out[i] = c.Embedding
			continue
		}
		missing = append(missing, i)
		texts = append(texts, c.Content)
	}

	if len(texts) > 0 {
		embs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks: %w", err)
		}
		if len(embs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embs), len(texts))
		}
		for j, i := range missing {
			out[i] = embs[j]
		}
	}
	return out, nil
}

// Query returns the topK nearest chunks by cosine similarity, scores
// descending in [-1,1], ties broken by insertion order.
func (ix *Index) Query(ctx context.Context, queryEmbedding []float32, topK int) ([]store.ScoredChunk, error) {
	if !ix.ready.Load() {
		return nil, ErrNotBuilt
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidQuery, topK)
	}
	if dim := ix.store.EmbeddingDim(); len(queryEmbedding) != dim {
		return nil, fmt.Errorf("%w: query embedding dim %d, index dim %d",
			ErrInvalidQuery, len(queryEmbedding), dim)
	}
	return ix.store.VectorSearch(ctx, queryEmbedding, topK)
}

// contentHash hashes the ordered chunk contents of one source.
func contentHash(group []Chunk) string {
	h := sha256.New()
	for _, c := range group {
		h.Write([]byte(c.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
