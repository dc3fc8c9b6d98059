// Package healthcoach implements an explainable health recommendation
// engine. Recent user logs are condensed into a behavioural summary,
// evidence is retrieved from a semantic knowledge index joined with a
// concept ontology, and candidate suggestions are ranked, diversified
// and explained. The orchestration is a strict per-request pipeline:
// analyze, retrieve, recommend.
package healthcoach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/healthcoach/analyzer"
	"github.com/brunobiangulo/healthcoach/ingest"
	"github.com/brunobiangulo/healthcoach/knowledge"
	"github.com/brunobiangulo/healthcoach/llm"
	"github.com/brunobiangulo/healthcoach/ontology"
	"github.com/brunobiangulo/healthcoach/recommender"
	"github.com/brunobiangulo/healthcoach/retriever"
	"github.com/brunobiangulo/healthcoach/store"
)

// Engine is the main entry point for the health coach.
type Engine interface {
	// BuildIndex embeds and indexes knowledge chunks. Must complete
	// before Suggest is called; passing no chunks indexes the built-in
	// corpus. Idempotent for unchanged sources.
	BuildIndex(ctx context.Context, chunks []knowledge.Chunk) error

	// AddLog records one health log entry. Returns the row id.
	AddLog(ctx context.Context, entry store.UserLog) (int64, error)

	// RecentLogs returns a user's newest entries, timestamp descending.
	RecentLogs(ctx context.Context, userID string, limit int) ([]store.UserLog, error)

	// Suggest runs the full pipeline for one user query.
	Suggest(ctx context.Context, userID, query string, opts ...SuggestOption) (*Result, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// State is the orchestrator's position in the per-request pipeline.
type State string

const (
	StateIdle         State = "idle"
	StateAnalyzing    State = "analyzing"
	StateRetrieving   State = "retrieving"
	StateRecommending State = "recommending"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// StageTiming records one completed pipeline stage for the trace.
type StageTiming struct {
	State     State `json:"state"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Result is the outcome of one suggestion request. A Result is only
// returned for completed requests; failures surface as StageFailure
// errors with no partial data.
type Result struct {
	RequestID   string                   `json:"request_id"`
	UserID      string                   `json:"user_id"`
	Query       string                   `json:"query"`
	State       State                    `json:"state"`
	Summary     analyzer.Summary         `json:"summary"`
	Suggestions []recommender.Suggestion `json:"suggestions"`
	Stages      []StageTiming            `json:"stages"`
}

// SuggestOption overrides per-request pipeline parameters.
type SuggestOption func(*suggestOptions)

type suggestOptions struct {
	topK       int
	maxResults int
	candidates []recommender.Candidate
}

// WithTopK overrides how many evidence chunks are retrieved.
func WithTopK(k int) SuggestOption {
	return func(o *suggestOptions) { o.topK = k }
}

// WithMaxResults overrides how many suggestions may be returned.
func WithMaxResults(n int) SuggestOption {
	return func(o *suggestOptions) { o.maxResults = n }
}

// WithCandidates ranks the given candidates instead of the built-in
// templates.
func WithCandidates(cands []recommender.Candidate) SuggestOption {
	return func(o *suggestOptions) { o.candidates = cands }
}

// Option configures engine construction.
type Option func(*engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *engine) { e.logger = l }
}

// WithEmbeddingProvider replaces the configured embedding provider.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(e *engine) { e.embProvider = p }
}

// WithChatProvider replaces the configured chat provider used for
// suggestion phrasing.
func WithChatProvider(p llm.Provider) Option {
	return func(e *engine) { e.chatProvider = p }
}

// WithGraph replaces the built-in concept ontology.
func WithGraph(g *ontology.Graph) Option {
	return func(e *engine) { e.graph = g }
}

type engine struct {
	cfg    Config
	logger *slog.Logger

	store *store.Store
	graph *ontology.Graph
	index *knowledge.Index
	retr  *retriever.Retriever
	rec   *recommender.Recommender

	embProvider  llm.Provider
	chatProvider llm.Provider
	embedder     *retryingEmbedder

	candMu     sync.Mutex
	candidates []recommender.Candidate

	closed atomic.Bool
}

// New creates an Engine from configuration. The knowledge index starts
// empty; call BuildIndex before serving suggestions.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, logger: slog.Default(), graph: ontology.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if e.embProvider == nil {
		p, err := llm.NewProvider(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("healthcoach: embedding provider: %w", err)
		}
		e.embProvider = p
	}
	if e.chatProvider == nil && cfg.PhraseSuggestions {
		p, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			return nil, fmt.Errorf("healthcoach: chat provider: %w", err)
		}
		e.chatProvider = p
	}

	dbPath, err := cfg.resolveDBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("healthcoach: opening store: %w", err)
	}
	e.store = st

	policy := retryPolicy{
		attempts: cfg.RetryAttempts,
		base:     cfg.RetryBaseDelay,
		timeout:  cfg.CallTimeout,
		logger:   e.logger,
	}
	e.embedder = &retryingEmbedder{provider: e.embProvider, policy: policy}

	var gen recommender.Generator
	if e.chatProvider != nil && cfg.PhraseSuggestions {
		gen = &retryingGenerator{provider: e.chatProvider, model: cfg.Chat.Model, policy: policy}
	}

	e.index = knowledge.NewIndex(st, e.embedder)
	e.retr = retriever.New(e.index, e.graph, e.embedder, cfg.MaxHops, e.logger)
	e.rec = recommender.New(e.embedder, gen, recommender.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		DiversityCutoff:     cfg.DiversityCutoff,
	}, e.logger)

	return e, nil
}

func (e *engine) BuildIndex(ctx context.Context, chunks []knowledge.Chunk) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if len(chunks) == 0 {
		chunks = ingest.DefaultCorpus()
	}
	return e.index.Build(ctx, chunks)
}

func (e *engine) AddLog(ctx context.Context, entry store.UserLog) (int64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return e.store.InsertUserLog(ctx, entry)
}

func (e *engine) RecentLogs(ctx context.Context, userID string, limit int) ([]store.UserLog, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.store.RecentUserLogs(ctx, userID, limit)
}

// Suggest drives the pipeline strictly in sequence. Each stage boundary
// checks cancellation; a failed stage aborts the request with a
// StageFailure and no partial suggestions.
func (e *engine) Suggest(ctx context.Context, userID, query string, opts ...SuggestOption) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if !e.index.Ready() {
		return nil, ErrIndexNotReady
	}

	o := suggestOptions{topK: e.cfg.TopK, maxResults: e.cfg.MaxResults}
	for _, opt := range opts {
		opt(&o)
	}

	res := &Result{
		RequestID: uuid.NewString(),
		UserID:    userID,
		Query:     query,
		State:     StateIdle,
	}
	log := e.logger.With("request_id", res.RequestID, "user_id", userID)

	// Analyzing
	stageStart := e.advance(res, StateAnalyzing)
	logs, err := e.store.RecentUserLogs(ctx, userID, e.cfg.WindowSize)
	if err != nil {
		return e.fail(res, log, StageAnalyze, err)
	}
	res.Summary = analyzer.Analyze(logs, time.Now().UTC(), analyzer.Config{
		WindowSize:     e.cfg.WindowSize,
		DigestMaxChars: e.cfg.DigestMaxChars,
	})
	e.record(res, StateAnalyzing, stageStart)
	if err := ctx.Err(); err != nil {
		return e.fail(res, log, StageAnalyze, err)
	}

	// Retrieving
	stageStart = e.advance(res, StateRetrieving)
	ev, err := e.retr.Retrieve(ctx, query, res.Summary, o.topK)
	if err != nil {
		return e.fail(res, log, StageRetrieve, err)
	}
	e.record(res, StateRetrieving, stageStart)
	if err := ctx.Err(); err != nil {
		return e.fail(res, log, StageRetrieve, err)
	}

	// Recommending
	stageStart = e.advance(res, StateRecommending)
	cands := o.candidates
	if cands == nil {
		if cands, err = e.defaultCandidates(ctx); err != nil {
			return e.fail(res, log, StageRecommend, err)
		}
	}
	suggestions, err := e.rec.Recommend(ctx, ev, res.Summary, cands, o.maxResults)
	if err != nil {
		return e.fail(res, log, StageRecommend, err)
	}
	e.record(res, StateRecommending, stageStart)

	e.audit(ctx, log, res.RequestID, userID, suggestions)

	res.Suggestions = suggestions
	res.State = StateDone
	log.Info("suggestion request completed",
		"suggestions", len(suggestions), "evidence_chunks", len(ev.Chunks), "concepts", len(ev.Concepts))
	return res, nil
}

func (e *engine) advance(res *Result, s State) time.Time {
	res.State = s
	return time.Now()
}

func (e *engine) record(res *Result, s State, start time.Time) {
	res.Stages = append(res.Stages, StageTiming{State: s, ElapsedMs: time.Since(start).Milliseconds()})
}

func (e *engine) fail(res *Result, log *slog.Logger, stage string, err error) (*Result, error) {
	res.State = StateFailed
	log.Error("suggestion request failed", "stage", stage, "error", err)
	return nil, &StageFailure{Stage: stage, Err: err}
}

// defaultCandidates returns the built-in templates, embedding them once
// per process on first use so ranking never re-embeds static text.
func (e *engine) defaultCandidates(ctx context.Context) ([]recommender.Candidate, error) {
	e.candMu.Lock()
	defer e.candMu.Unlock()

	if e.candidates == nil {
		cands := recommender.DefaultCandidates()
		texts := make([]string, len(cands))
		for i, c := range cands {
			texts[i] = c.Text
		}
		embs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding candidate templates: %w", err)
		}
		if len(embs) != len(cands) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d candidates", len(embs), len(cands))
		}
		for i := range cands {
			cands[i].Embedding = embs[i]
		}
		e.candidates = cands
	}

	out := make([]recommender.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out, nil
}

// audit persists accepted suggestions for later inspection. Failures are
// logged, not surfaced: the user already has their answer.
func (e *engine) audit(ctx context.Context, log *slog.Logger, requestID, userID string, suggestions []recommender.Suggestion) {
	if len(suggestions) == 0 {
		return
	}
	records := make([]store.SuggestionRecord, len(suggestions))
	for i, s := range suggestions {
		records[i] = store.SuggestionRecord{
			SuggestionID: s.ID,
			RequestID:    requestID,
			UserID:       userID,
			Category:     s.Category,
			Text:         s.Text,
			Reasoning:    s.Reasoning,
			Score:        s.Score,
		}
	}
	if err := e.store.LogSuggestions(ctx, records); err != nil {
		log.Warn("failed to persist suggestion audit records", "error", err)
	}
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.store.Close()
}
