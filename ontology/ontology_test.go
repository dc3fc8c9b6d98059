package ontology

import (
	"errors"
	"testing"
)

// fixtureGraph builds the small graph used across traversal tests:
//
//	hydration -> energy -> focus      (influences)
//	sleep -> stress                    (influences)
//	sleep -- exercise                  (related_to)
func fixtureGraph(t *testing.T) *Graph {
	t.Helper()
	nodes := []Node{
		{ID: "hydration", Label: "hydration"},
		{ID: "energy", Label: "energy"},
		{ID: "focus", Label: "focus"},
		{ID: "sleep", Label: "sleep"},
		{ID: "stress", Label: "stress"},
		{ID: "exercise", Label: "exercise"},
	}
	edges := []Edge{
		{Source: "hydration", Target: "energy", Kind: Influences, Weight: 0.8},
		{Source: "energy", Target: "focus", Kind: Influences, Weight: 0.6},
		{Source: "sleep", Target: "stress", Kind: Influences, Weight: 0.7},
		{Source: "sleep", Target: "exercise", Kind: RelatedTo, Weight: 0.5},
	}
	g, err := New(nodes, edges)
	if err != nil {
		t.Fatalf("building fixture graph: %v", err)
	}
	return g
}

func TestNewRejectsSelfLoop(t *testing.T) {
	nodes := []Node{{ID: "a", Label: "a"}}
	edges := []Edge{{Source: "a", Target: "a", Kind: Influences}}
	if _, err := New(nodes, edges); err == nil {
		t.Fatal("expected error for self-loop")
	}
}

func TestNewRejectsUnknownEndpoint(t *testing.T) {
	nodes := []Node{{ID: "a", Label: "a"}}
	edges := []Edge{{Source: "a", Target: "ghost", Kind: Influences}}
	if _, err := New(nodes, edges); err == nil {
		t.Fatal("expected error for unknown edge target")
	}
}

func TestNewRejectsBadWeight(t *testing.T) {
	nodes := []Node{{ID: "a", Label: "a"}, {ID: "b", Label: "b"}}
	edges := []Edge{{Source: "a", Target: "b", Kind: Influences, Weight: 1.5}}
	if _, err := New(nodes, edges); err == nil {
		t.Fatal("expected error for weight outside [0,1]")
	}
}

func TestNeighborsOneHopInfluences(t *testing.T) {
	g := fixtureGraph(t)

	got, err := g.Neighbors("hydration", []RelationKind{Influences}, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(got) != 1 || got[0].ID != "energy" {
		t.Fatalf("expected exactly [energy] at 1 hop, got %v", got)
	}
}

func TestNeighborsTwoHops(t *testing.T) {
	g := fixtureGraph(t)

	got, err := g.Neighbors("hydration", []RelationKind{Influences}, 2)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	ids := nodeIDs(got)
	if len(ids) != 2 || !ids["energy"] || !ids["focus"] {
		t.Fatalf("expected {energy, focus} at 2 hops, got %v", got)
	}
}

func TestNeighborsInfluencedByIsReverse(t *testing.T) {
	g := fixtureGraph(t)

	got, err := g.Neighbors("energy", []RelationKind{InfluencedBy}, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(got) != 1 || got[0].ID != "hydration" {
		t.Fatalf("expected [hydration] via influenced_by, got %v", got)
	}
}

func TestNeighborsNormalisedInfluencedByEdge(t *testing.T) {
	// A graph authored with influenced_by edges must answer queries
	// identically to one authored with the reversed influences edges.
	nodes := []Node{{ID: "a", Label: "a"}, {ID: "b", Label: "b"}}
	authored, err := New(nodes, []Edge{{Source: "b", Target: "a", Kind: InfluencedBy}})
	if err != nil {
		t.Fatalf("building graph: %v", err)
	}

	got, err := authored.Neighbors("a", []RelationKind{Influences}, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected influenced_by b->a to traverse as a influences b, got %v", got)
	}
}

func TestNeighborsRelatedToIsSymmetric(t *testing.T) {
	g := fixtureGraph(t)

	for _, start := range []string{"sleep", "exercise"} {
		got, err := g.Neighbors(start, []RelationKind{RelatedTo}, 1)
		if err != nil {
			t.Fatalf("neighbors from %s: %v", start, err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 related neighbour from %s, got %v", start, got)
		}
	}
}

func TestNeighborsMixedKinds(t *testing.T) {
	g := fixtureGraph(t)

	got, err := g.Neighbors("sleep", []RelationKind{Influences, RelatedTo}, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	ids := nodeIDs(got)
	if !ids["stress"] || !ids["exercise"] {
		t.Fatalf("expected stress (influences) and exercise (related_to), got %v", got)
	}
}

func TestNeighborsUnknownConcept(t *testing.T) {
	g := fixtureGraph(t)

	_, err := g.Neighbors("ghost", []RelationKind{Influences}, 1)
	if !errors.Is(err, ErrUnknownConcept) {
		t.Fatalf("expected ErrUnknownConcept, got %v", err)
	}
}

func TestEdgesBetween(t *testing.T) {
	g := fixtureGraph(t)

	edges, err := g.EdgesBetween("hydration", "energy")
	if err != nil {
		t.Fatalf("edges between: %v", err)
	}
	if len(edges) != 1 || edges[0].Kind != Influences {
		t.Fatalf("expected one influences edge, got %v", edges)
	}

	// Order of arguments must not matter.
	rev, err := g.EdgesBetween("energy", "hydration")
	if err != nil {
		t.Fatalf("edges between reversed: %v", err)
	}
	if len(rev) != 1 {
		t.Fatalf("expected symmetric lookup, got %v", rev)
	}
}

func TestMatchConcepts(t *testing.T) {
	g := fixtureGraph(t)

	matched := g.MatchConcepts("How can I SLEEP better after exercise?")
	ids := nodeIDs(matched)
	if !ids["sleep"] || !ids["exercise"] {
		t.Fatalf("expected sleep and exercise matched, got %v", matched)
	}
	if ids["hydration"] {
		t.Fatalf("hydration should not match, got %v", matched)
	}
}

func TestMatchConceptsNoMatch(t *testing.T) {
	g := fixtureGraph(t)
	if matched := g.MatchConcepts("completely unrelated text"); len(matched) != 0 {
		t.Fatalf("expected no matches, got %v", matched)
	}
}

func TestDefaultGraph(t *testing.T) {
	g := Default()
	if g.Len() != 17 {
		t.Fatalf("expected 17 concepts, got %d", g.Len())
	}

	// Spot-check a known relation from the curated graph.
	got, err := g.Neighbors("hydration", []RelationKind{Influences}, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if !nodeIDs(got)["energy"] {
		t.Fatalf("expected hydration to influence energy, got %v", got)
	}
}

func nodeIDs(nodes []Node) map[string]bool {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	return ids
}
