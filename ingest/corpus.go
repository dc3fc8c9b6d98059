package ingest

import "github.com/brunobiangulo/healthcoach/knowledge"

// defaultDocs is the built-in curated health knowledge, one document per
// entry. Kept deliberately short; real deployments index their own
// sources alongside it.
var defaultDocs = []struct {
	source string
	title  string
	text   string
}{
	{"builtin:hydration", "Hydration and energy",
		"Proper hydration is essential for maintaining energy levels. Adults should drink 8-10 glasses of water daily."},
	{"builtin:sleep", "Sleep duration",
		"Regular sleep of 7-9 hours improves mood, cognitive function, and immune system health."},
	{"builtin:exercise", "Exercise guidelines",
		"Exercise for at least 150 minutes per week helps reduce cardiovascular disease risk and improves mental health."},
	{"builtin:nutrition", "Balanced nutrition",
		"Balanced nutrition with fruits, vegetables, whole grains, and lean proteins supports overall health."},
	{"builtin:stress", "Stress and health",
		"Chronic stress negatively impacts sleep quality, heart health, and mental wellbeing. Stress management is crucial."},
	{"builtin:sleep-recovery", "Sleep and recovery",
		"Adequate sleep helps with muscle recovery and athletic performance. Sleep deprivation reduces endurance."},
	{"builtin:dehydration", "Dehydration symptoms",
		"Dehydration can cause fatigue, headaches, and reduced mental clarity. Monitor fluid intake during exercise."},
	{"builtin:blood-pressure", "Blood pressure",
		"High blood pressure is linked to poor diet, lack of exercise, and high stress levels. Lifestyle changes help."},
	{"builtin:weight", "Weight management",
		"Weight management requires balanced calorie intake and regular physical activity. Sustainable habits matter."},
	{"builtin:mental-health", "Mental and physical health",
		"Mental health affects physical health. Regular exercise and good sleep improve mood and reduce anxiety."},
}

// DefaultCorpus returns the built-in knowledge chunks, ready for
// indexing. Each document is short enough to be a single chunk.
func DefaultCorpus() []knowledge.Chunk {
	out := make([]knowledge.Chunk, 0, len(defaultDocs))
	for _, d := range defaultDocs {
		for i, piece := range SplitText(d.text, DefaultChunkSize) {
			out = append(out, knowledge.Chunk{
				Source:   d.source,
				Title:    d.title,
				Position: i,
				Content:  piece,
			})
		}
	}
	return out
}
