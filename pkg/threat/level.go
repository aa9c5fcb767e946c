// Package threat defines the four-level verdict scale and helpers over the
// class-probability vector. The canonical class index order is ascending
// severity: ignore=0, standard=1, elevated=2, critical=3. Every component
// that touches a probability vector uses this ordering.
package threat

import (
	"encoding/json"
	"fmt"
	"math"
)

// Level is a discrete threat verdict, totally ordered by severity.
type Level int

const (
	Ignore Level = iota
	Standard
	Elevated
	Critical
)

// NumClasses is the width of every probability vector in the pipeline.
const NumClasses = 4

func (l Level) String() string {
	switch l {
	case Ignore:
		return "ignore"
	case Standard:
		return "standard"
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalJSON encodes the level as its lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the lowercase names produced by MarshalJSON.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Parse maps a lowercase level name back to its Level.
func Parse(s string) (Level, error) {
	switch s {
	case "ignore":
		return Ignore, nil
	case "standard":
		return Standard, nil
	case "elevated":
		return Elevated, nil
	case "critical":
		return Critical, nil
	}
	return Ignore, fmt.Errorf("unknown threat level %q", s)
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= Ignore && l <= Critical
}

// Uniform returns the uniform prior over the four classes, used whenever the
// model is unavailable.
func Uniform() []float64 {
	p := make([]float64, NumClasses)
	for i := range p {
		p[i] = 1.0 / NumClasses
	}
	return p
}

// Argmax returns the index of the largest probability. Ties resolve to the
// lowest (least severe) index.
func Argmax(probs []float64) int {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}

// Max returns the largest probability, or 0 for an empty vector.
func Max(probs []float64) float64 {
	m := 0.0
	for _, p := range probs {
		if p > m {
			m = p
		}
	}
	return m
}

// Stddev returns the population standard deviation of the vector.
func Stddev(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	mean := 0.0
	for _, p := range probs {
		mean += p
	}
	mean /= float64(len(probs))
	variance := 0.0
	for _, p := range probs {
		d := p - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(probs)))
}

// Distribution converts a probability vector to the response map keyed by
// level name. Short vectors are padded with zeros.
func Distribution(probs []float64) map[string]float64 {
	dist := make(map[string]float64, NumClasses)
	for i := 0; i < NumClasses; i++ {
		p := 0.0
		if i < len(probs) {
			p = probs[i]
		}
		dist[Level(i).String()] = p
	}
	return dist
}

// Clamp01 bounds a score to [0,1]. Applied before any score feeds level
// selection.
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
