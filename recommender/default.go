package recommender

// DefaultCandidates returns the built-in suggestion templates used when
// the caller supplies none. IDs are stable so reasoning traces stay
// comparable across runs; embeddings are filled lazily on first use.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{ID: "tpl-water-intake", Category: "hydration",
			Text: "Increase water intake to 2-3 liters daily to boost energy and reduce fatigue"},
		{ID: "tpl-sleep-duration", Category: "sleep",
			Text: "Aim for 7-9 hours of sleep to improve mood and cognitive function"},
		{ID: "tpl-moderate-exercise", Category: "exercise",
			Text: "Add 30 minutes of moderate exercise 5 days per week to enhance cardiovascular health"},
		{ID: "tpl-whole-foods", Category: "nutrition",
			Text: "Include more whole grains and vegetables in your diet for better nutrition"},
		{ID: "tpl-stress-reduction", Category: "stress",
			Text: "Practice stress-reduction techniques like meditation or deep breathing daily"},
		{ID: "tpl-heart-rate-zones", Category: "exercise",
			Text: "Monitor heart rate during exercise to stay in optimal training zones"},
		{ID: "tpl-rest-days", Category: "recovery",
			Text: "Take rest days between intense workouts for proper muscle recovery"},
		{ID: "tpl-activity-hydration", Category: "hydration",
			Text: "Stay hydrated before, during, and after physical activity"},
		{ID: "tpl-sleep-schedule", Category: "sleep",
			Text: "Maintain consistent sleep schedule to regulate circadian rhythm"},
		{ID: "tpl-cardio-strength", Category: "exercise",
			Text: "Balance cardio and strength training for comprehensive fitness"},
	}
}
