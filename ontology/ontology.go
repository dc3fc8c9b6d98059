// Package ontology provides a fixed directed graph of health concepts and
// typed relationships. The graph is built once at startup and is read-only
// afterwards, so it is safe to share across concurrent requests.
package ontology

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RelationKind is the type of a directed edge between two concepts.
type RelationKind string

const (
	// Influences means the source concept affects the target concept.
	// Traversed forward only.
	Influences RelationKind = "influences"

	// InfluencedBy is the reverse of Influences. Edges of this kind are
	// normalised to Influences at build time; the kind exists so callers
	// can request reverse traversal.
	InfluencedBy RelationKind = "influenced_by"

	// RelatedTo is a symmetric association, traversed in both directions.
	RelatedTo RelationKind = "related_to"
)

// Node is a single health concept.
type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// Edge is a directed, typed relation between two concepts. Weight is an
// optional strength in [0,1]; zero means unspecified.
type Edge struct {
	Source string       `json:"source"`
	Target string       `json:"target"`
	Kind   RelationKind `json:"kind"`
	Weight float64      `json:"weight,omitempty"`
}

// ErrUnknownConcept is returned when a queried concept id is not in the
// graph. Callers should treat this as "no ontology evidence", not a
// fatal error.
var ErrUnknownConcept = errors.New("ontology: unknown concept")

// Graph is an immutable concept graph. Construct with New; do not mutate
// the returned value.
type Graph struct {
	nodes map[string]Node
	edges []Edge

	// Adjacency, built once. influencesOut follows Influences edges
	// forward, influencesIn follows them in reverse (InfluencedBy),
	// related holds RelatedTo neighbours in both directions.
	influencesOut map[string][]string
	influencesIn  map[string][]string
	related       map[string][]string
}

// New builds a Graph from typed node and edge collections. It rejects
// self-loops, edges referencing unknown nodes, unknown relation kinds,
// and weights outside [0,1]. InfluencedBy edges are stored as the
// equivalent reversed Influences edge so that traversal results are
// identical either way the data was authored.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes:         make(map[string]Node, len(nodes)),
		influencesOut: make(map[string][]string),
		influencesIn:  make(map[string][]string),
		related:       make(map[string][]string),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("ontology: node with empty id (label %q)", n.Label)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("ontology: duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
	}

	for _, e := range edges {
		if e.Source == e.Target {
			return nil, fmt.Errorf("ontology: self-loop on %q", e.Source)
		}
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("ontology: edge source %q not in graph", e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("ontology: edge target %q not in graph", e.Target)
		}
		if e.Weight < 0 || e.Weight > 1 {
			return nil, fmt.Errorf("ontology: edge %s->%s weight %f outside [0,1]", e.Source, e.Target, e.Weight)
		}

		switch e.Kind {
		case Influences:
			g.influencesOut[e.Source] = append(g.influencesOut[e.Source], e.Target)
			g.influencesIn[e.Target] = append(g.influencesIn[e.Target], e.Source)
		case InfluencedBy:
			// Normalise: A influenced_by B == B influences A.
			e = Edge{Source: e.Target, Target: e.Source, Kind: Influences, Weight: e.Weight}
			g.influencesOut[e.Source] = append(g.influencesOut[e.Source], e.Target)
			g.influencesIn[e.Target] = append(g.influencesIn[e.Target], e.Source)
		case RelatedTo:
			g.related[e.Source] = append(g.related[e.Source], e.Target)
			g.related[e.Target] = append(g.related[e.Target], e.Source)
		default:
			return nil, fmt.Errorf("ontology: unknown relation kind %q", e.Kind)
		}
		g.edges = append(g.edges, e)
	}

	return g, nil
}

// Node returns the node for a concept id.
func (g *Graph) Node(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownConcept, id)
	}
	return n, nil
}

// Len returns the number of concepts in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Neighbors returns all concepts reachable from the given concept within
// maxHops hops following the given relation kinds. The start concept is
// not included. Results are sorted by id for determinism.
func (g *Graph) Neighbors(id string, kinds []RelationKind, maxHops int) ([]Node, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConcept, id)
	}
	if maxHops < 1 || len(kinds) == 0 {
		return nil, nil
	}

	follow := func(cur string) []string {
		var out []string
		for _, k := range kinds {
			switch k {
			case Influences:
				out = append(out, g.influencesOut[cur]...)
			case InfluencedBy:
				out = append(out, g.influencesIn[cur]...)
			case RelatedTo:
				out = append(out, g.related[cur]...)
			}
		}
		return out
	}

	// BFS bounded by maxHops, expanding one frontier per hop.
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var found []Node

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, nid := range follow(cur) {
				if visited[nid] {
					continue
				}
				visited[nid] = true
				next = append(next, nid)
				found = append(found, g.nodes[nid])
			}
		}
		frontier = next
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

// EdgesBetween returns all stored edges connecting the two concepts in
// either direction.
func (g *Graph) EdgesBetween(a, b string) ([]Edge, error) {
	if _, ok := g.nodes[a]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConcept, a)
	}
	if _, ok := g.nodes[b]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConcept, b)
	}

	var out []Edge
	for _, e := range g.edges {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			out = append(out, e)
		}
	}
	return out, nil
}

// EdgesFrom returns all stored edges whose source or symmetric endpoint is
// the given concept. Used to attach relation evidence to traversal results.
func (g *Graph) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == id || (e.Kind == RelatedTo && e.Target == id) {
			out = append(out, e)
		}
	}
	return out
}

// MatchConcepts returns the nodes whose label occurs in the given text,
// case-insensitive. This is deliberately conservative substring matching;
// results are sorted by id.
func (g *Graph) MatchConcepts(text string) []Node {
	lower := strings.ToLower(text)
	var matched []Node
	for _, n := range g.nodes {
		if strings.Contains(lower, strings.ToLower(n.Label)) {
			matched = append(matched, n)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched
}
