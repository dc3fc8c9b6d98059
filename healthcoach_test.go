//go:build cgo

package healthcoach

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/healthcoach/llm"
	"github.com/brunobiangulo/healthcoach/recommender"
	"github.com/brunobiangulo/healthcoach/store"
)

// fakeProvider returns a fixed embedding for every text and can be told
// to fail its next N embed calls with a transient status.
type fakeProvider struct {
	mu         sync.Mutex
	vec        []float32
	failNext   int
	failStatus int
	embedCalls int
}

func (p *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedCalls++
	if p.failNext > 0 {
		p.failNext--
		return nil, &llm.APIError{Status: p.failStatus, Body: "injected"}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vec
	}
	return out, nil
}

func (p *fakeProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "Keep it up!"}, nil
}

func (p *fakeProvider) setFailures(n, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext, p.failStatus = n, status
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.Embedding = llm.Config{Provider: "ollama", Model: "test-embed"}
	cfg.RetryBaseDelay = time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T) (Engine, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{vec: []float32{1, 0, 0, 0}}
	eng, err := New(testConfig(t), WithEmbeddingProvider(provider))
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, provider
}

func seedLogs(t *testing.T, eng Engine, userID string) {
	t.Helper()
	base := time.Now().UTC().AddDate(0, 0, -7)
	for i := 0; i < 7; i++ {
		_, err := eng.AddLog(context.Background(), store.UserLog{
			UserID:          userID,
			Timestamp:       base.AddDate(0, 0, i),
			ActivityMinutes: 30,
			SleepHours:      7.0 - float64(i)*0.2,
			WaterIntakeML:   2000,
			Calories:        2100,
			HeartRate:       62,
			Steps:           8000,
			Mood:            "tired",
		})
		if err != nil {
			t.Fatalf("adding log %d: %v", i, err)
		}
	}
}

// Context vector is (1,0,0,0); the two candidates clear the 0.7
// threshold and sit below the 0.85 diversity cutoff against each other.
func testCandidates() []recommender.Candidate {
	return []recommender.Candidate{
		{ID: "c-sleep", Category: "sleep", Text: "sleep more", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c-walk", Category: "exercise", Text: "walk daily", Embedding: []float32{0.8, 0, 0.6, 0}},
	}
}

func TestSuggestBeforeBuildIndex(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Suggest(context.Background(), "u1", "how can I sleep better?")
	if !errors.Is(err, ErrIndexNotReady) {
		t.Fatalf("expected ErrIndexNotReady, got %v", err)
	}
}

func TestSuggestPipeline(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.BuildIndex(ctx, nil); err != nil {
		t.Fatalf("building index: %v", err)
	}
	seedLogs(t, eng, "u1")

	res, err := eng.Suggest(ctx, "u1", "how can I sleep better?", WithCandidates(testCandidates()))
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}

	if res.State != StateDone {
		t.Errorf("expected final state done, got %s", res.State)
	}
	if res.RequestID == "" {
		t.Error("result should carry a request id")
	}
	if len(res.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %+v", res.Suggestions)
	}
	for i := 1; i < len(res.Suggestions); i++ {
		if res.Suggestions[i].Score > res.Suggestions[i-1].Score {
			t.Errorf("suggestions not sorted by score descending")
		}
	}
	for _, s := range res.Suggestions {
		if s.Score < 0.7 {
			t.Errorf("suggestion below similarity threshold: %+v", s)
		}
		if s.Reasoning == "" {
			t.Errorf("suggestion missing reasoning trace: %+v", s)
		}
	}
	if res.Summary.Digest == "" {
		t.Error("result should carry the behavioural summary")
	}
	if len(res.Stages) != 3 {
		t.Errorf("expected 3 completed stage timings, got %+v", res.Stages)
	}

	// Accepted suggestions are persisted for audit.
	var n int
	if err := eng.Store().DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM suggestions WHERE request_id = ?", res.RequestID).Scan(&n); err != nil {
		t.Fatalf("counting audit rows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 audit rows, got %d", n)
	}
}

func TestSuggestEmptyHistoryStillSucceeds(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	if err := eng.BuildIndex(ctx, nil); err != nil {
		t.Fatalf("building index: %v", err)
	}

	res, err := eng.Suggest(ctx, "nobody", "how can I sleep better?", WithCandidates(testCandidates()))
	if err != nil {
		t.Fatalf("suggest with no history: %v", err)
	}
	if res.Summary.Entries != 0 {
		t.Errorf("expected empty window, got %d entries", res.Summary.Entries)
	}
	if res.Summary.Digest == "" {
		t.Error("digest must be non-empty even with no logs")
	}
}

func TestSuggestTransientFailureThenSuccess(t *testing.T) {
	eng, provider := newTestEngine(t)
	ctx := context.Background()
	if err := eng.BuildIndex(ctx, nil); err != nil {
		t.Fatalf("building index: %v", err)
	}
	seedLogs(t, eng, "u1")

	baseline, err := eng.Suggest(ctx, "u1", "how can I sleep better?", WithCandidates(testCandidates()))
	if err != nil {
		t.Fatalf("baseline suggest: %v", err)
	}

	// Fail the first two embed calls; the retry policy allows three
	// attempts, so the request must still succeed.
	provider.setFailures(2, http.StatusServiceUnavailable)
	res, err := eng.Suggest(ctx, "u1", "how can I sleep better?", WithCandidates(testCandidates()))
	if err != nil {
		t.Fatalf("suggest with transient failures: %v", err)
	}

	if len(res.Suggestions) != len(baseline.Suggestions) {
		t.Fatalf("recovered run differs from baseline: %d vs %d suggestions",
			len(res.Suggestions), len(baseline.Suggestions))
	}
	for i := range res.Suggestions {
		if res.Suggestions[i].Text != baseline.Suggestions[i].Text ||
			res.Suggestions[i].Score != baseline.Suggestions[i].Score {
			t.Errorf("suggestion %d differs after recovery: %+v vs %+v",
				i, res.Suggestions[i], baseline.Suggestions[i])
		}
	}
}

func TestSuggestNonTransientFailsWithoutRetry(t *testing.T) {
	eng, provider := newTestEngine(t)
	ctx := context.Background()
	if err := eng.BuildIndex(ctx, nil); err != nil {
		t.Fatalf("building index: %v", err)
	}

	provider.mu.Lock()
	callsBefore := provider.embedCalls
	provider.mu.Unlock()
	provider.setFailures(10, http.StatusBadRequest)

	_, err := eng.Suggest(ctx, "u1", "sleep", WithCandidates(testCandidates()))
	if err == nil {
		t.Fatal("expected failure")
	}
	if FailedStage(err) != StageRetrieve {
		t.Errorf("expected retrieve stage failure, got %q (%v)", FailedStage(err), err)
	}
	var sf *StageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected StageFailure, got %T", err)
	}

	provider.mu.Lock()
	attempts := provider.embedCalls - callsBefore
	provider.mu.Unlock()
	if attempts != 1 {
		t.Errorf("non-transient failure must not retry, saw %d embed calls", attempts)
	}
}

func TestSuggestCancelledContext(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	if err := eng.BuildIndex(ctx, nil); err != nil {
		t.Fatalf("building index: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := eng.Suggest(cancelled, "u1", "sleep", WithCandidates(testCandidates()))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should carry the cancellation cause: %v", err)
	}
}

func TestSuggestAfterClose(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := eng.Suggest(context.Background(), "u1", "sleep"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Embedding.Model = ""
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing embedding model should fail validation, got %v", err)
	}

	bad = DefaultConfig()
	bad.TopK = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("top_k=0 should fail validation, got %v", err)
	}

	// A negative base delay would feed rand.Int63n a negative bound.
	bad = DefaultConfig()
	bad.RetryBaseDelay = -time.Second
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative retry base delay should fail validation, got %v", err)
	}

	// Zero disables backoff and is legal.
	ok := DefaultConfig()
	ok.RetryBaseDelay = 0
	if err := ok.Validate(); err != nil {
		t.Errorf("zero retry base delay should validate, got %v", err)
	}
}
