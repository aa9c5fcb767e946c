// Package rules implements the deterministic override layer: an ordered rule
// table evaluated before the reasoning score decides anything. Rules are pure
// predicates over the request and the model's probability vector; the first
// match wins and pins the verdict with confidence 1.0.
package rules

import (
	"sort"

	"sentra/pkg/config"
	"sentra/pkg/schema"
	"sentra/pkg/threat"
)

// Rule is one (priority, predicate) entry. Match must be side-effect free;
// it returns the concrete rule name on a hit, which may specialize the
// rule's base name (emergency_fire, emergency_smoke, ...).
type Rule struct {
	Priority int
	Name     string
	Level    threat.Level
	Match    func(req *schema.Request, probs []float64) (string, bool)
}

// Verdict is the outcome of a rule match.
type Verdict struct {
	Name  string
	Level threat.Level
}

// Engine evaluates the rule table in ascending priority order.
type Engine struct {
	rules []Rule
}

// NewEngine builds the canonical rule set from config thresholds. The table
// is fixed after construction and safe for concurrent evaluation.
func NewEngine(cfg config.Config) *Engine {
	e := &Engine{rules: []Rule{
		{
			Priority: 1,
			Name:     "emergency",
			Level:    threat.Critical,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				for _, ev := range req.Events {
					switch ev.Type {
					case "fire", "smoke", "glassbreak":
						if ev.Confidence >= cfg.EmergencyThreshold {
							return "emergency_" + ev.Type, true
						}
					}
				}
				return "", false
			},
		},
		{
			Priority: 2,
			Name:     "high_noise_away",
			Level:    threat.Elevated,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				if req.SystemMode != "away" {
					return "", false
				}
				for _, ev := range req.Events {
					if ev.Type != "sound" {
						continue
					}
					if db, ok := ev.MetadataFloat("decibels"); ok && db > cfg.NoiseAlertDecibels {
						return "high_noise_away", true
					}
				}
				return "", false
			},
		},
		{
			Priority: 3,
			Name:     "unknown_face_away",
			Level:    threat.Elevated,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				if req.SystemMode != "away" {
					return "", false
				}
				for _, ev := range req.Events {
					if ev.Type == "face" && !knownFace(ev) {
						return "unknown_face_away", true
					}
				}
				return "", false
			},
		},
		{
			Priority: 4,
			Name:     "door_open_away_mode",
			Level:    threat.Elevated,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				if req.SystemMode != "away" {
					return "", false
				}
				for _, ev := range req.Events {
					if ev.Type == "door" && ev.Confidence >= cfg.DoorOpenThreshold {
						return "door_open_away_mode", true
					}
				}
				return "", false
			},
		},
		{
			Priority: 5,
			Name:     "night_motion_detected",
			Level:    threat.Elevated,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				if req.SystemMode != "night" {
					return "", false
				}
				for _, ev := range req.Events {
					if ev.Type == "motion" && ev.Confidence > 0.7 {
						return "night_motion_detected", true
					}
				}
				return "", false
			},
		},
		{
			Priority: 9,
			Name:     "false_positive_reduction",
			Level:    threat.Ignore,
			Match: func(req *schema.Request, _ []float64) (string, bool) {
				for _, ev := range req.Events {
					if ev.Type == "pet" && ev.Confidence >= cfg.PetThreshold {
						return "pet_detected", true
					}
					if ev.Type == "face" && knownFace(ev) && ev.Confidence >= cfg.FaceKnownThreshold {
						return "known_face_detected", true
					}
				}
				return "", false
			},
		},
	}}
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority < e.rules[j].Priority })
	return e
}

// Evaluate returns the first matching rule's verdict, or ok=false when no
// rule fires and downstream reasoning decides the level.
func (e *Engine) Evaluate(req *schema.Request, probs []float64) (Verdict, bool) {
	if req == nil {
		return Verdict{}, false
	}
	for _, r := range e.rules {
		if name, ok := r.Match(req, probs); ok {
			return Verdict{Name: name, Level: r.Level}, true
		}
	}
	return Verdict{}, false
}

// Rules exposes the ordered table, mainly for diagnostics.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func knownFace(ev schema.Event) bool {
	if known, ok := ev.MetadataBool("known"); ok {
		return known
	}
	if id, ok := ev.Metadata["identity"].(string); ok && id != "" {
		return true
	}
	return false
}
