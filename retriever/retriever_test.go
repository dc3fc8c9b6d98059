package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/brunobiangulo/healthcoach/analyzer"
	"github.com/brunobiangulo/healthcoach/ontology"
	"github.com/brunobiangulo/healthcoach/store"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

type stubIndex struct {
	chunks []store.ScoredChunk
	err    error
	gotK   int
}

func (ix *stubIndex) Query(_ context.Context, _ []float32, topK int) ([]store.ScoredChunk, error) {
	ix.gotK = topK
	if ix.err != nil {
		return nil, ix.err
	}
	return ix.chunks, nil
}

func testGraph(t *testing.T) *ontology.Graph {
	t.Helper()
	g, err := ontology.New(
		[]ontology.Node{
			{ID: "sleep", Label: "sleep", Category: "recovery"},
			{ID: "stress", Label: "stress", Category: "mental"},
			{ID: "focus", Label: "focus", Category: "mental"},
			{ID: "exercise", Label: "exercise", Category: "activity"},
			{ID: "nutrition", Label: "nutrition", Category: "diet"},
		},
		[]ontology.Edge{
			{Source: "sleep", Target: "stress", Kind: ontology.Influences, Weight: 0.8},
			{Source: "stress", Target: "focus", Kind: ontology.Influences, Weight: 0.7},
			{Source: "sleep", Target: "exercise", Kind: ontology.RelatedTo, Weight: 0.6},
		},
	)
	if err != nil {
		t.Fatalf("building graph: %v", err)
	}
	return g
}

func conceptIDs(ev EvidenceSet) []string {
	ids := make([]string, len(ev.Concepts))
	for i, n := range ev.Concepts {
		ids[i] = n.ID
	}
	return ids
}

func TestRetrieveSleepScenario(t *testing.T) {
	ix := &stubIndex{chunks: []store.ScoredChunk{
		{ChunkID: 1, Source: "builtin:sleep", Content: "Regular sleep improves mood.", Score: 0.91},
		{ChunkID: 2, Source: "builtin:stress", Content: "Stress management techniques.", Score: 0.64},
	}}
	r := New(ix, testGraph(t), &stubEmbedder{vec: []float32{1, 0, 0, 0}}, 2, nil)

	ev, err := r.Retrieve(context.Background(), "I have been sleeping badly, my sleep is short", analyzer.Summary{}, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if ix.gotK != 3 {
		t.Errorf("top_k not forwarded to index, got %d", ix.gotK)
	}
	if len(ev.Chunks) != 2 || ev.Chunks[0].ChunkID != 1 {
		t.Fatalf("chunks not passed through in order: %+v", ev.Chunks)
	}

	// sleep seeds the walk; stress (1 hop), focus (2 hops via stress) and
	// exercise (related) are all reachable within 2 hops.
	want := []string{"exercise", "focus", "sleep", "stress"}
	got := conceptIDs(ev)
	if len(got) != len(want) {
		t.Fatalf("concepts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("concepts = %v, want %v", got, want)
		}
	}

	// All three relations connect nodes inside the neighborhood.
	if len(ev.Relations) != 3 {
		t.Fatalf("expected 3 relations, got %+v", ev.Relations)
	}
}

func TestRetrieveHopLimit(t *testing.T) {
	r := New(&stubIndex{}, testGraph(t), &stubEmbedder{vec: []float32{1, 0, 0, 0}}, 1, nil)

	ev, err := r.Retrieve(context.Background(), "sleep", analyzer.Summary{}, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, id := range conceptIDs(ev) {
		if id == "focus" {
			t.Errorf("focus is 2 hops away and must not appear with maxHops=1: %v", conceptIDs(ev))
		}
	}
}

func TestRetrieveUsesDigestConcepts(t *testing.T) {
	r := New(&stubIndex{}, testGraph(t), &stubEmbedder{vec: []float32{1, 0, 0, 0}}, 2, nil)

	summary := analyzer.Summary{Digest: "7 entries; exercise down 40%"}
	ev, err := r.Retrieve(context.Background(), "how can I feel better?", summary, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	found := false
	for _, id := range conceptIDs(ev) {
		if id == "exercise" {
			found = true
		}
	}
	if !found {
		t.Errorf("digest mention of exercise should seed the walk, got %v", conceptIDs(ev))
	}
}

func TestRetrieveNoConceptMatch(t *testing.T) {
	r := New(&stubIndex{}, testGraph(t), &stubEmbedder{vec: []float32{1, 0, 0, 0}}, 2, nil)

	ev, err := r.Retrieve(context.Background(), "completely unrelated question", analyzer.Summary{}, 3)
	if err != nil {
		t.Fatalf("empty evidence must not be an error: %v", err)
	}
	if len(ev.Concepts) != 0 || len(ev.Relations) != 0 {
		t.Errorf("expected empty ontology evidence, got %v / %v", ev.Concepts, ev.Relations)
	}
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	r := New(&stubIndex{}, testGraph(t), &stubEmbedder{err: errors.New("connection refused")}, 2, nil)

	_, err := r.Retrieve(context.Background(), "sleep", analyzer.Summary{}, 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRetrieveIndexErrorPropagates(t *testing.T) {
	sentinel := errors.New("index boom")
	r := New(&stubIndex{err: sentinel}, testGraph(t), &stubEmbedder{vec: []float32{1, 0, 0, 0}}, 2, nil)

	_, err := r.Retrieve(context.Background(), "sleep", analyzer.Summary{}, 3)
	if !errors.Is(err, sentinel) {
		t.Fatalf("index errors should propagate, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("index errors are not embedding unavailability: %v", err)
	}
}

func TestDescribeRelations(t *testing.T) {
	lines := DescribeRelations([]ontology.Edge{
		{Source: "sleep", Target: "stress", Kind: ontology.Influences, Weight: 0.8},
		{Source: "sleep", Target: "exercise", Kind: ontology.RelatedTo, Weight: 0.6},
	})
	if lines[0] != "sleep influences stress (0.8)" {
		t.Errorf("unexpected rendering: %q", lines[0])
	}
	if lines[1] != "sleep relates to exercise (0.6)" {
		t.Errorf("unexpected rendering: %q", lines[1])
	}
}
