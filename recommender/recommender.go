// Package recommender ranks candidate suggestions against retrieved
// evidence and the user's behavioural summary, filters near-duplicates,
// and attaches an auditable reasoning trace to each accepted suggestion.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/brunobiangulo/healthcoach/analyzer"
	"github.com/brunobiangulo/healthcoach/retriever"
)

// ErrGenerationUnavailable marks a failed external phrasing call. It is
// never returned from Recommend: suggestions fall back to the raw
// reasoning trace instead of failing the request.
var ErrGenerationUnavailable = errors.New("recommender: generation unavailable")

// Candidate is a templated suggestion eligible for ranking. Embedding
// may be nil; Recommend embeds missing vectors in one batch.
type Candidate struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Suggestion is one ranked, explained recommendation.
type Suggestion struct {
	ID        string  `json:"id"`
	Category  string  `json:"category"`
	Text      string  `json:"text"`
	Reasoning string  `json:"reasoning"`
	Score     float64 `json:"score"`
}

// Embedder is the slice of the llm provider used for context and
// candidate vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator optionally rephrases a suggestion from its reasoning trace.
// Failures are tolerated; the trace itself is the fallback text source.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds the ranking thresholds. Zero values take the defaults.
type Config struct {
	// SimilarityThreshold discards candidates scoring below it (default 0.7).
	SimilarityThreshold float64
	// DiversityCutoff rejects a candidate whose similarity to any already
	// accepted candidate reaches it (default 0.85).
	DiversityCutoff float64
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.DiversityCutoff == 0 {
		c.DiversityCutoff = 0.85
	}
	return c
}

// Recommender scores and diversifies candidates. Generator may be nil.
type Recommender struct {
	embedder  Embedder
	generator Generator
	cfg       Config
	logger    *slog.Logger
}

func New(embedder Embedder, generator Generator, cfg Config, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{embedder: embedder, generator: generator, cfg: cfg.withDefaults(), logger: logger}
}

// Recommend ranks candidates against the combined evidence and summary
// context. Candidates below the similarity threshold are dropped; the
// survivors are sorted by score descending (stable) and greedily
// diversity-filtered. Zero survivors is a valid empty result, not an
// error. Phrasing failures degrade to the raw reasoning trace.
func (r *Recommender) Recommend(ctx context.Context, ev retriever.EvidenceSet, summary analyzer.Summary, candidates []Candidate, maxResults int) ([]Suggestion, error) {
	if maxResults < 1 || len(candidates) == 0 {
		return nil, nil
	}

	contextEmb, err := r.contextEmbedding(ctx, ev, summary)
	if err != nil {
		return nil, err
	}
	if err := r.fillCandidateEmbeddings(ctx, candidates); err != nil {
		return nil, err
	}

	type scored struct {
		cand  Candidate
		score float64
	}
	var pool []scored
	for _, c := range candidates {
		s := Cosine(c.Embedding, contextEmb)
		if s < r.cfg.SimilarityThreshold {
			continue
		}
		pool = append(pool, scored{cand: c, score: s})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	var accepted []scored
	for _, s := range pool {
		if len(accepted) == maxResults {
			break
		}
		diverse := true
		for _, a := range accepted {
			if Cosine(s.cand.Embedding, a.cand.Embedding) >= r.cfg.DiversityCutoff {
				diverse = false
				break
			}
		}
		if diverse {
			accepted = append(accepted, s)
		}
	}

	out := make([]Suggestion, 0, len(accepted))
	for _, a := range accepted {
		trace := reasoningTrace(a.cand, a.score, ev)
		out = append(out, Suggestion{
			ID:        uuid.NewString(),
			Category:  a.cand.Category,
			Text:      r.phrase(ctx, a.cand, trace),
			Reasoning: trace,
			Score:     a.score,
		})
	}
	return out, nil
}

// contextEmbedding embeds the concatenation of the evidence digest and
// the summary digest. Embedding failures are retrieval unavailability,
// retryable by the caller when transient.
func (r *Recommender) contextEmbedding(ctx context.Context, ev retriever.EvidenceSet, summary analyzer.Summary) ([]float32, error) {
	text := evidenceDigest(ev)
	if summary.Digest != "" {
		text += "\nUser summary: " + summary.Digest
	}
	embs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding ranking context: %v", retriever.ErrUnavailable, err)
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for 1 text", retriever.ErrUnavailable, len(embs))
	}
	return embs[0], nil
}

// fillCandidateEmbeddings batch-embeds candidates that arrived without a
// vector, writing results back in place.
func (r *Recommender) fillCandidateEmbeddings(ctx context.Context, candidates []Candidate) error {
	var missing []int
	var texts []string
	for i, c := range candidates {
		if c.Embedding == nil {
			missing = append(missing, i)
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	embs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embedding candidates: %v", retriever.ErrUnavailable, err)
	}
	if len(embs) != len(texts) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d texts", retriever.ErrUnavailable, len(embs), len(texts))
	}
	for j, i := range missing {
		candidates[i].Embedding = embs[j]
	}
	return nil
}

// evidenceDigest renders the evidence set as ranking context text.
func evidenceDigest(ev retriever.EvidenceSet) string {
	var b strings.Builder
	b.WriteString("Evidence:")
	if len(ev.Chunks) == 0 && len(ev.Relations) == 0 {
		b.WriteString(" none")
	}
	for _, c := range ev.Chunks {
		b.WriteString("\n- ")
		b.WriteString(c.Content)
	}
	for _, line := range retriever.DescribeRelations(ev.Relations) {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}

// reasoningTrace cites the evidence by id so the decision is auditable
// and reproducible from the same evidence set.
func reasoningTrace(c Candidate, score float64, ev retriever.EvidenceSet) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("candidate %s matched context with similarity %.2f", c.ID, score))

	if len(ev.Chunks) > 0 {
		ids := make([]string, len(ev.Chunks))
		for i, ch := range ev.Chunks {
			ids[i] = fmt.Sprintf("%s#%d", ch.Source, ch.ChunkID)
		}
		parts = append(parts, "evidence chunks: "+strings.Join(ids, ", "))
	}
	if len(ev.Relations) > 0 {
		parts = append(parts, "ontology: "+strings.Join(retriever.DescribeRelations(ev.Relations), "; "))
	}
	return strings.Join(parts, " | ")
}

// phrase asks the generator for final wording. Any failure falls back to
// the candidate text; the request never fails on phrasing.
func (r *Recommender) phrase(ctx context.Context, c Candidate, trace string) string {
	if r.generator == nil {
		return c.Text
	}
	prompt := fmt.Sprintf(
		"Rephrase this health suggestion as one short, encouraging sentence.\nSuggestion: %s\nReasoning: %s",
		c.Text, trace)
	text, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("recommender: phrasing degraded to template text",
			"candidate", c.ID, "error", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err))
		return c.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return c.Text
	}
	return text
}

// Cosine returns the cosine similarity of two vectors in [-1,1]. Zero
// vectors or mismatched lengths yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
