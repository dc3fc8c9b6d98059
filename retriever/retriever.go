// Package retriever assembles the evidence set for one suggestion
// request: semantically similar knowledge chunks plus the ontology
// neighborhood of the concepts mentioned in the query and the user's
// recent behaviour.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/brunobiangulo/healthcoach/analyzer"
	"github.com/brunobiangulo/healthcoach/ontology"
	"github.com/brunobiangulo/healthcoach/store"
)

// ErrUnavailable is returned when the embedding capability fails and no
// evidence can be gathered. Callers may retry; an empty evidence set is
// NOT this error.
var ErrUnavailable = errors.New("retriever: retrieval unavailable")

// Embedder is the slice of the llm provider the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkIndex is the queryable slice of the knowledge index.
type ChunkIndex interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]store.ScoredChunk, error)
}

// EvidenceSet is everything downstream ranking may cite: scored chunks
// ordered by similarity, plus the ontology nodes and relations reached
// from the request's seed concepts. All slices may be empty.
type EvidenceSet struct {
	Chunks    []store.ScoredChunk `json:"chunks"`
	Concepts  []ontology.Node     `json:"concepts"`
	Relations []ontology.Edge     `json:"relations"`
	// QueryEmbedding is kept so ranking can reuse it without a second
	// embedder round trip.
	QueryEmbedding []float32 `json:"-"`
}

// Retriever joins the semantic index with the ontology graph.
type Retriever struct {
	index    ChunkIndex
	graph    *ontology.Graph
	embedder Embedder
	maxHops  int
	logger   *slog.Logger
}

// New creates a retriever expanding concepts up to maxHops relations
// away (values below 1 default to 2).
func New(index ChunkIndex, graph *ontology.Graph, embedder Embedder, maxHops int, logger *slog.Logger) *Retriever {
	if maxHops < 1 {
		maxHops = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: index, graph: graph, embedder: embedder, maxHops: maxHops, logger: logger}
}

// Retrieve gathers evidence for a query in the context of the user's
// summary. Embedding failures surface as ErrUnavailable; a query that
// matches nothing returns an empty evidence set and no error. Ontology
// concepts that cannot be resolved are skipped, not fatal.
func (r *Retriever) Retrieve(ctx context.Context, query string, summary analyzer.Summary, topK int) (EvidenceSet, error) {
	text := query
	if summary.Digest != "" {
		text = query + "\n\nRecent behaviour: " + summary.Digest
	}

	embs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return EvidenceSet{}, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}
	if len(embs) != 1 {
		return EvidenceSet{}, fmt.Errorf("%w: embedder returned %d vectors for 1 text", ErrUnavailable, len(embs))
	}

	ev := EvidenceSet{QueryEmbedding: embs[0]}

	chunks, err := r.index.Query(ctx, embs[0], topK)
	if err != nil {
		return EvidenceSet{}, fmt.Errorf("querying index: %w", err)
	}
	ev.Chunks = chunks

	ev.Concepts, ev.Relations = r.expandConcepts(query, summary)
	return ev, nil
}

// expandConcepts seeds from concept mentions in the query and digest,
// walks the graph up to maxHops, and returns the deduplicated
// neighborhood with the relations that connect it.
func (r *Retriever) expandConcepts(query string, summary analyzer.Summary) ([]ontology.Node, []ontology.Edge) {
	seen := make(map[string]bool)
	var ids []string

	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	seeds := r.graph.MatchConcepts(query)
	seeds = append(seeds, r.graph.MatchConcepts(summary.Digest)...)
	for _, seed := range seeds {
		add(seed.ID)
	}

	kinds := []ontology.RelationKind{ontology.Influences, ontology.InfluencedBy, ontology.RelatedTo}
	for _, seed := range seeds {
		neighbors, err := r.graph.Neighbors(seed.ID, kinds, r.maxHops)
		if err != nil {
			// A matched label without a resolvable node is a data bug in the
			// ontology, not a request failure.
			r.logger.Warn("retriever: skipping unresolvable concept", "concept", seed.ID, "error", err)
			continue
		}
		for _, n := range neighbors {
			add(n.ID)
		}
	}
	sort.Strings(ids)

	nodes := make([]ontology.Node, 0, len(ids))
	for _, id := range ids {
		node, err := r.graph.Node(id)
		if err != nil {
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes, r.relationsWithin(seen)
}

// relationsWithin returns every edge whose endpoints are both in the
// neighborhood, deduplicated and deterministically ordered.
func (r *Retriever) relationsWithin(included map[string]bool) []ontology.Edge {
	var edges []ontology.Edge
	dedup := make(map[string]bool)
	for id := range included {
		for _, e := range r.graph.EdgesFrom(id) {
			if !included[e.Source] || !included[e.Target] {
				continue
			}
			key := e.Source + "|" + string(e.Kind) + "|" + e.Target
			if dedup[key] {
				continue
			}
			dedup[key] = true
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Kind < edges[j].Kind
	})
	return edges
}

// DescribeRelations renders relations as short human-readable lines for
// reasoning traces, e.g. "sleep influences stress (0.8)".
func DescribeRelations(edges []ontology.Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		verb := "influences"
		if e.Kind == ontology.RelatedTo {
			verb = "relates to"
		}
		out[i] = fmt.Sprintf("%s %s %s (%.1f)", e.Source, verb, e.Target, e.Weight)
	}
	return out
}
