// Package reasoning scores a request through an ordered chain of analysis
// layers: deduplication, severity, temporal and spatial context, event
// correlation, model calibration, legitimacy discounting, synthesis and
// meta-reasoning. Each layer records its contribution so the verdict is
// explainable factor by factor.
package reasoning

import (
	"fmt"
	"sort"
	"time"

	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/logging"
	"sentra/pkg/schema"
	"sentra/pkg/threat"
)

// severityTable maps event types to their intrinsic severity before any
// contextual adjustment.
var severityTable = map[string]float64{
	"fire": 1.0, "smoke": 1.0, "glassbreak": 0.9,
	"door": 0.8, "window": 0.8, "face": 0.7,
	"motion": 0.6, "sound": 0.5, "vehicle": 0.4, "pet": 0.1,
}

const (
	nightMultiplier       = 1.5
	escalationSpatialBase = 1.3
	suppressionHeavy      = 0.8
	suppressionDiscount   = 0.5
	breachMotionBoost     = 2.0
	multiDeviceBoost      = 1.5
	homeMotionDiscount    = 0.5
	agreementBonusRate    = 0.2
)

// Result is the reasoning verdict feeding final level selection.
type Result struct {
	Score            float64
	Confidence       float64
	PrimaryFactors   []string
	LayerAnalysis    map[string]float64
	SuppressionRatio float64
	Fallback         bool
}

// Engine runs the layer chain. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	cfg config.Config
	log *logging.Logger
}

// NewEngine builds a reasoning engine.
func NewEngine(cfg config.Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.New("reasoning", logging.LevelInfo, nil)
	}
	return &Engine{cfg: cfg, log: log}
}

// neutralResult is the degraded verdict used when a layer panics: a standard
// level score with mid confidence, so a reasoning bug never fails a request.
func neutralResult() Result {
	return Result{
		Score:          0.5,
		Confidence:     0.5,
		PrimaryFactors: []string{"fallback invoked"},
		LayerAnalysis:  map[string]float64{},
		Fallback:       true,
	}
}

// Analyze scores the request against its crime context and the model's
// probability vector. It never panics outward.
func (e *Engine) Analyze(req *schema.Request, cc crimeintel.Context, probs []float64, now time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reasoning layer panicked, using neutral result", logging.Fields{"panic": fmt.Sprint(r)})
			res = neutralResult()
		}
	}()

	res = Result{LayerAnalysis: make(map[string]float64, 9)}
	if req == nil || len(req.Events) == 0 {
		res.PrimaryFactors = append(res.PrimaryFactors, "no events to analyze")
		return res
	}

	kept, ratio := e.deduplicate(req.Events, now)
	res.SuppressionRatio = ratio
	res.LayerAnalysis["deduplication"] = ratio
	if len(kept) == 0 {
		res.PrimaryFactors = append(res.PrimaryFactors, "all_events_suppressed_as_duplicates")
		return res
	}
	if ratio > 0 {
		res.PrimaryFactors = append(res.PrimaryFactors,
			fmt.Sprintf("%.0f%% of events suppressed as duplicates", ratio*100))
	}

	severity, dominant := immediateSeverity(kept)
	res.LayerAnalysis["severity"] = severity
	if dominant != "" {
		res.PrimaryFactors = append(res.PrimaryFactors,
			fmt.Sprintf("dominant signal: %s", dominant))
	}

	temporal := e.temporalMultiplier(kept, now)
	res.LayerAnalysis["temporal"] = temporal
	if temporal > 1 {
		res.PrimaryFactors = append(res.PrimaryFactors, "night-time activity multiplier applied")
	}

	spatial := spatialMultiplier(cc)
	res.LayerAnalysis["spatial"] = spatial
	if cc.EscalationRequired {
		res.PrimaryFactors = append(res.PrimaryFactors,
			fmt.Sprintf("elevated area risk: %d recent incidents nearby", cc.RelevantCrimes))
	}

	correlation, corrFactors := correlationMultiplier(kept, ratio)
	res.LayerAnalysis["correlation"] = correlation
	res.PrimaryFactors = append(res.PrimaryFactors, corrFactors...)

	calibration := threat.Clamp01(threat.Max(probs) - threat.Stddev(probs))
	res.LayerAnalysis["calibration"] = calibration

	legitimacy := legitimacyFactor(req.SystemMode, kept)
	res.LayerAnalysis["legitimacy"] = legitimacy
	if legitimacy < 1 {
		res.PrimaryFactors = append(res.PrimaryFactors, "activity consistent with occupants at home")
	}

	base := (severity + calibration) / 2
	score := threat.Clamp01(base * temporal * spatial * correlation * legitimacy)
	res.Score = score
	res.LayerAnalysis["synthesis"] = score

	res.Confidence = e.metaConfidence(score, calibration, probs)
	res.LayerAnalysis["meta"] = res.Confidence
	return res
}

// deduplicate sorts events by timestamp and suppresses repeats of the same
// (type, device) key inside the duplicate window. Unparseable timestamps
// keep their original order and are never suppressed.
func (e *Engine) deduplicate(events []schema.Event, now time.Time) ([]schema.Event, float64) {
	type stamped struct {
		ev schema.Event
		at time.Time
		ok bool
	}
	st := make([]stamped, 0, len(events))
	for _, ev := range events {
		t, err := ev.Time()
		st = append(st, stamped{ev: ev, at: t, ok: err == nil})
	}
	sort.SliceStable(st, func(i, j int) bool {
		if !st[i].ok || !st[j].ok {
			return false
		}
		return st[i].at.Before(st[j].at)
	})

	lastSeen := make(map[string]time.Time)
	kept := make([]schema.Event, 0, len(st))
	suppressed := 0
	for _, s := range st {
		if !s.ok {
			kept = append(kept, s.ev)
			continue
		}
		key := s.ev.Type + "|" + s.ev.Device()
		if prev, ok := lastSeen[key]; ok && s.at.Sub(prev) < e.cfg.DuplicateWindow {
			suppressed++
			continue
		}
		lastSeen[key] = s.at
		kept = append(kept, s.ev)
	}
	if len(events) == 0 {
		return kept, 0
	}
	return kept, float64(suppressed) / float64(len(events))
}

func immediateSeverity(events []schema.Event) (float64, string) {
	best := 0.0
	dominant := ""
	for _, ev := range events {
		sev, ok := severityTable[ev.Type]
		if !ok {
			sev = 0.3
		}
		if s := sev * ev.Confidence; s > best {
			best = s
			dominant = fmt.Sprintf("%s (confidence %.2f)", ev.Type, ev.Confidence)
		}
	}
	return best, dominant
}

// temporalMultiplier boosts the score when the first event falls in the
// configured night range, which may wrap midnight.
func (e *Engine) temporalMultiplier(events []schema.Event, now time.Time) float64 {
	hour := now.Hour()
	for _, ev := range events {
		if t, err := ev.Time(); err == nil {
			hour = t.Hour()
			break
		}
	}
	if e.isNight(hour) {
		return nightMultiplier
	}
	return 1.0
}

func (e *Engine) isNight(hour int) bool {
	start, end := e.cfg.NightStartHour, e.cfg.NightEndHour
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func spatialMultiplier(cc crimeintel.Context) float64 {
	if cc.EscalationRequired {
		return escalationSpatialBase + cc.CrimeIndex
	}
	return 1.0 + cc.CrimeIndex
}

func correlationMultiplier(events []schema.Event, suppressionRatio float64) (float64, []string) {
	m := 1.0
	var factors []string

	if suppressionRatio > suppressionHeavy {
		m *= suppressionDiscount
		factors = append(factors, "heavy duplicate suppression suggests sensor noise")
	}

	var breach, motion bool
	motionDevices := make(map[string]bool)
	for _, ev := range events {
		switch ev.Type {
		case "door", "window", "glassbreak":
			breach = true
		case "motion":
			motion = true
			motionDevices[ev.Device()] = true
		}
	}
	if breach && motion {
		m *= breachMotionBoost
		factors = append(factors, "entry-point breach correlated with interior motion")
	}
	if len(motionDevices) >= 2 {
		m *= multiDeviceBoost
		factors = append(factors, "motion tracked across multiple devices")
	}
	return m, factors
}

func legitimacyFactor(mode string, events []schema.Event) float64 {
	if mode != "home" {
		return 1.0
	}
	for _, ev := range events {
		if ev.Type == "motion" {
			return homeMotionDiscount
		}
	}
	return 1.0
}

// metaConfidence starts from the calibration signal and applies the
// agreement bonus when the score-implied level matches the model's argmax.
func (e *Engine) metaConfidence(score, calibration float64, probs []float64) float64 {
	conf := calibration
	if conf <= 0 {
		conf = 0.5
	}
	if len(probs) == threat.NumClasses {
		implied := e.levelFromScore(score)
		if threat.Level(threat.Argmax(probs)) == implied {
			conf *= 1 + agreementBonusRate*threat.Max(probs)
		}
	}
	return threat.Clamp01(conf)
}

func (e *Engine) levelFromScore(score float64) threat.Level {
	switch {
	case score >= e.cfg.CriticalThreshold:
		return threat.Critical
	case score >= e.cfg.ElevatedThreshold:
		return threat.Elevated
	case score >= e.cfg.StandardThreshold:
		return threat.Standard
	default:
		return threat.Ignore
	}
}

// LevelFromScore maps a synthesized score to a level using the configured
// thresholds. Exported for the orchestrator's final selection.
func (e *Engine) LevelFromScore(score float64) threat.Level {
	return e.levelFromScore(score)
}
