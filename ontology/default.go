package ontology

// Default returns the built-in health concept graph. It is the curated
// domain knowledge the coach reasons over when no external ontology source
// is configured.
func Default() *Graph {
	nodes := []Node{
		{ID: "hydration", Label: "hydration", Category: "lifestyle"},
		{ID: "fatigue", Label: "fatigue", Category: "symptom"},
		{ID: "energy", Label: "energy", Category: "physiology"},
		{ID: "sleep", Label: "sleep", Category: "lifestyle"},
		{ID: "exercise", Label: "exercise", Category: "lifestyle"},
		{ID: "nutrition", Label: "nutrition", Category: "lifestyle"},
		{ID: "stress", Label: "stress", Category: "mental"},
		{ID: "mood", Label: "mood", Category: "mental"},
		{ID: "heart_health", Label: "heart health", Category: "physiology"},
		{ID: "weight", Label: "weight", Category: "physiology"},
		{ID: "blood_pressure", Label: "blood pressure", Category: "physiology"},
		{ID: "recovery", Label: "recovery", Category: "physiology"},
		{ID: "endurance", Label: "endurance", Category: "fitness"},
		{ID: "focus", Label: "focus", Category: "mental"},
		{ID: "immune_system", Label: "immune system", Category: "physiology"},
		{ID: "inflammation", Label: "inflammation", Category: "symptom"},
		{ID: "mental_clarity", Label: "mental clarity", Category: "mental"},
	}

	edges := []Edge{
		{Source: "hydration", Target: "fatigue", Kind: Influences, Weight: 0.8},
		{Source: "hydration", Target: "energy", Kind: Influences, Weight: 0.8},
		{Source: "hydration", Target: "focus", Kind: Influences, Weight: 0.6},
		{Source: "hydration", Target: "mental_clarity", Kind: Influences, Weight: 0.6},
		{Source: "sleep", Target: "energy", Kind: Influences, Weight: 0.9},
		{Source: "sleep", Target: "mood", Kind: Influences, Weight: 0.8},
		{Source: "sleep", Target: "recovery", Kind: Influences, Weight: 0.9},
		{Source: "sleep", Target: "immune_system", Kind: Influences, Weight: 0.7},
		{Source: "sleep", Target: "mental_clarity", Kind: Influences, Weight: 0.7},
		{Source: "exercise", Target: "energy", Kind: Influences, Weight: 0.7},
		{Source: "exercise", Target: "mood", Kind: Influences, Weight: 0.8},
		{Source: "exercise", Target: "heart_health", Kind: Influences, Weight: 0.9},
		{Source: "exercise", Target: "sleep", Kind: Influences, Weight: 0.6},
		{Source: "exercise", Target: "stress", Kind: Influences, Weight: 0.7},
		{Source: "nutrition", Target: "energy", Kind: Influences, Weight: 0.8},
		{Source: "nutrition", Target: "immune_system", Kind: Influences, Weight: 0.7},
		{Source: "nutrition", Target: "weight", Kind: Influences, Weight: 0.9},
		{Source: "stress", Target: "sleep", Kind: Influences, Weight: 0.8},
		{Source: "stress", Target: "mood", Kind: Influences, Weight: 0.8},
		{Source: "stress", Target: "heart_health", Kind: Influences, Weight: 0.6},
		{Source: "weight", Target: "heart_health", Kind: Influences, Weight: 0.7},
		{Source: "weight", Target: "blood_pressure", Kind: Influences, Weight: 0.7},
		{Source: "recovery", Target: "endurance", Kind: Influences, Weight: 0.8},
		{Source: "recovery", Target: "energy", Kind: Influences, Weight: 0.6},
		{Source: "inflammation", Target: "recovery", Kind: Influences, Weight: 0.6},

		{Source: "sleep", Target: "exercise", Kind: RelatedTo, Weight: 0.5},
		{Source: "fatigue", Target: "energy", Kind: RelatedTo, Weight: 0.9},
		{Source: "focus", Target: "mental_clarity", Kind: RelatedTo, Weight: 0.8},
		{Source: "nutrition", Target: "hydration", Kind: RelatedTo, Weight: 0.5},
		{Source: "endurance", Target: "exercise", Kind: RelatedTo, Weight: 0.7},
	}

	g, err := New(nodes, edges)
	if err != nil {
		// The built-in graph is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return g
}
