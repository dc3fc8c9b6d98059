// Package analyzer condenses a user's recent health logs into a bounded
// per-request summary: one trend per metric plus a capped textual digest
// for downstream prompt construction. The stage is pure: it never calls
// an external capability.
package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/healthcoach/store"
)

// Direction classifies how the latest value compares to the rest of the
// observation window.
type Direction string

const (
	Up           Direction = "up"
	Down         Direction = "down"
	Steady       Direction = "steady"
	Insufficient Direction = "insufficient_data"
)

// steadyBand is the relative change below which a trend counts as steady.
const steadyBand = 0.05

// Trend is one metric's movement across the window.
type Trend struct {
	Metric    string    `json:"metric"`
	Direction Direction `json:"direction"`
	// Magnitude is the relative change of the latest value against the
	// mean of the earlier window entries. Zero when insufficient.
	Magnitude float64 `json:"magnitude"`
	Anomaly   bool    `json:"anomaly"`
	Latest    float64 `json:"latest"`
	Mean      float64 `json:"mean"`
}

// Summary is the bounded behavioural summary of one user's recent logs.
type Summary struct {
	UserID  string  `json:"user_id"`
	Entries int     `json:"entries"`
	Trends  []Trend `json:"trends"`
	Mood    string  `json:"mood,omitempty"`
	Digest  string  `json:"digest"`
}

// Config bounds the analysis window and digest size. Zero values take
// the defaults (window 7, digest cap 300 chars, anomaly at 1.5 sigma).
type Config struct {
	WindowSize     int
	DigestMaxChars int
	AnomalySigma   float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 7
	}
	if c.DigestMaxChars <= 0 {
		c.DigestMaxChars = 300
	}
	if c.AnomalySigma <= 0 {
		c.AnomalySigma = 1.5
	}
	return c
}

// metricDefs maps metric names to their value extractors, in the fixed
// order they appear in trends and digests.
var metricDefs = []struct {
	name string
	get  func(store.UserLog) float64
}{
	{"activity_minutes", func(l store.UserLog) float64 { return float64(l.ActivityMinutes) }},
	{"sleep_hours", func(l store.UserLog) float64 { return l.SleepHours }},
	{"water_intake_ml", func(l store.UserLog) float64 { return float64(l.WaterIntakeML) }},
	{"steps", func(l store.UserLog) float64 { return float64(l.Steps) }},
	{"heart_rate", func(l store.UserLog) float64 { return float64(l.HeartRate) }},
	{"calories", func(l store.UserLog) float64 { return float64(l.Calories) }},
}

// Analyze summarises the most recent entries of a user's log history.
// Fewer entries than the window size is not an error: whatever exists is
// summarised, down to an empty history.
func Analyze(logs []store.UserLog, now time.Time, cfg Config) Summary {
	cfg = cfg.withDefaults()

	window := recentWindow(logs, now, cfg.WindowSize)

	s := Summary{Entries: len(window)}
	if len(window) > 0 {
		s.UserID = window[0].UserID
	}

	for _, def := range metricDefs {
		s.Trends = append(s.Trends, metricTrend(def.name, values(window, def.get), cfg.AnomalySigma))
	}
	s.Mood = dominantMood(window)
	s.Digest = buildDigest(s, cfg.DigestMaxChars)
	return s
}

// recentWindow sorts descending by timestamp, drops entries stamped
// after now, and keeps at most n.
func recentWindow(logs []store.UserLog, now time.Time, n int) []store.UserLog {
	window := make([]store.UserLog, 0, len(logs))
	for _, l := range logs {
		if l.Timestamp.After(now) {
			continue
		}
		window = append(window, l)
	}
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.After(window[j].Timestamp)
	})
	if len(window) > n {
		window = window[:n]
	}
	return window
}

func values(window []store.UserLog, get func(store.UserLog) float64) []float64 {
	out := make([]float64, len(window))
	for i, l := range window {
		out[i] = get(l)
	}
	return out
}

// metricTrend compares the latest value against the mean of the rest of
// the window. At least two samples are required; below that the trend is
// insufficient_data. The anomaly flag additionally needs two earlier
// samples to estimate deviation.
func metricTrend(name string, vals []float64, sigma float64) Trend {
	t := Trend{Metric: name, Direction: Insufficient}
	if len(vals) < 2 {
		return t
	}

	latest := vals[0]
	rest := vals[1:]
	mean := meanOf(rest)

	t.Latest = latest
	t.Mean = mean

	switch {
	case mean == 0 && latest == 0:
		t.Direction = Steady
	case mean == 0:
		t.Direction = Up
		t.Magnitude = 1
	default:
		t.Magnitude = (latest - mean) / mean
		switch {
		case math.Abs(t.Magnitude) < steadyBand:
			t.Direction = Steady
		case t.Magnitude > 0:
			t.Direction = Up
		default:
			t.Direction = Down
		}
	}

	if len(rest) >= 2 {
		sd := stddevOf(rest, mean)
		if sd > 0 && math.Abs(latest-mean) > sigma*sd {
			t.Anomaly = true
		}
	}
	return t
}

func meanOf(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddevOf(vals []float64, mean float64) float64 {
	var sum float64
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func dominantMood(window []store.UserLog) string {
	counts := make(map[string]int)
	for _, l := range window {
		if l.Mood != "" {
			counts[l.Mood]++
		}
	}
	best, bestN := "", 0
	for mood, n := range counts {
		if n > bestN || (n == bestN && mood < best) {
			best, bestN = mood, n
		}
	}
	return best
}

// buildDigest renders trends as short records joined by "; ", appending
// records only while the whole digest stays within maxChars. Truncation
// therefore always lands on a record boundary, never mid-token.
func buildDigest(s Summary, maxChars int) string {
	if s.Entries == 0 {
		return clip("no recent logs", maxChars)
	}

	records := []string{fmt.Sprintf("%d entries", s.Entries)}
	for _, t := range s.Trends {
		records = append(records, trendRecord(t))
	}
	if s.Mood != "" {
		records = append(records, "mood mostly "+s.Mood)
	}

	var b strings.Builder
	for i, rec := range records {
		sep := 0
		if i > 0 {
			sep = 2 // "; "
		}
		if b.Len()+sep+len(rec) > maxChars {
			break
		}
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(rec)
	}
	if b.Len() == 0 {
		// First record alone exceeded the cap; fall back to a clipped
		// minimal digest so the result is never empty.
		return clip(records[0], maxChars)
	}
	return b.String()
}

func trendRecord(t Trend) string {
	if t.Direction == Insufficient {
		return t.Metric + " insufficient data"
	}
	rec := fmt.Sprintf("%s %s %.0f%% (%.1f vs avg %.1f)",
		t.Metric, t.Direction, math.Abs(t.Magnitude)*100, t.Latest, t.Mean)
	if t.Anomaly {
		rec += " [anomaly]"
	}
	return rec
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
