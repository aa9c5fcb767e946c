package reasoning

import (
	"testing"
	"time"

	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/schema"
	"sentra/pkg/threat"
)

var baseTime = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func at(t time.Time) string { return t.Format(time.RFC3339) }

func motionEvent(device string, conf float64, ts time.Time) schema.Event {
	return schema.Event{Type: "motion", Confidence: conf, Timestamp: at(ts), DeviceID: device}
}

func simpleRequest(mode string, events ...schema.Event) *schema.Request {
	return &schema.Request{Events: events, SystemMode: mode, Timestamp: at(baseTime)}
}

func TestDeduplicationWindow(t *testing.T) {
	e := NewEngine(config.Default(), nil)

	// Second motion from the same device 2s later is inside the 5s window.
	kept, ratio := e.deduplicate([]schema.Event{
		motionEvent("cam-1", 0.8, baseTime),
		motionEvent("cam-1", 0.9, baseTime.Add(2*time.Second)),
	}, baseTime)
	if len(kept) != 1 {
		t.Fatalf("kept %d events, want 1", len(kept))
	}
	if ratio != 0.5 {
		t.Errorf("suppression ratio = %v, want 0.5", ratio)
	}

	// 6s apart is outside the window.
	kept, ratio = e.deduplicate([]schema.Event{
		motionEvent("cam-1", 0.8, baseTime),
		motionEvent("cam-1", 0.9, baseTime.Add(6*time.Second)),
	}, baseTime)
	if len(kept) != 2 || ratio != 0 {
		t.Errorf("6s apart: kept=%d ratio=%v, want 2/0", len(kept), ratio)
	}

	// Different devices never deduplicate against each other.
	kept, _ = e.deduplicate([]schema.Event{
		motionEvent("cam-1", 0.8, baseTime),
		motionEvent("cam-2", 0.8, baseTime.Add(time.Second)),
	}, baseTime)
	if len(kept) != 2 {
		t.Errorf("distinct devices: kept=%d, want 2", len(kept))
	}
}

func TestDuplicateDoesNotDoubleCountSeverity(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	single := e.Analyze(simpleRequest("away", motionEvent("cam-1", 0.8, baseTime)),
		crimeintel.Context{}, threat.Uniform(), baseTime)
	doubled := e.Analyze(simpleRequest("away",
		motionEvent("cam-1", 0.8, baseTime),
		motionEvent("cam-1", 0.8, baseTime.Add(2*time.Second))),
		crimeintel.Context{}, threat.Uniform(), baseTime)

	if doubled.LayerAnalysis["severity"] != single.LayerAnalysis["severity"] {
		t.Errorf("suppressed duplicate changed severity: %v vs %v",
			doubled.LayerAnalysis["severity"], single.LayerAnalysis["severity"])
	}
	if doubled.SuppressionRatio != 0.5 {
		t.Errorf("suppression ratio = %v, want 0.5", doubled.SuppressionRatio)
	}
}

func TestImmediateSeverityOrdering(t *testing.T) {
	sev, dominant := immediateSeverity([]schema.Event{
		{Type: "pet", Confidence: 0.9},
		{Type: "fire", Confidence: 0.9},
	})
	if sev != 0.9 {
		t.Errorf("severity = %v, want 0.9 (fire 1.0 x 0.9)", sev)
	}
	if dominant != "fire (confidence 0.90)" {
		t.Errorf("dominant = %q", dominant)
	}
}

func TestTemporalNightMultiplier(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	night := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	day := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	if m := e.temporalMultiplier([]schema.Event{motionEvent("c", 0.8, night)}, baseTime); m != 1.5 {
		t.Errorf("23:30 multiplier = %v, want 1.5", m)
	}
	if m := e.temporalMultiplier([]schema.Event{motionEvent("c", 0.8, earlyMorning)}, baseTime); m != 1.5 {
		t.Errorf("03:00 multiplier = %v, want 1.5", m)
	}
	if m := e.temporalMultiplier([]schema.Event{motionEvent("c", 0.8, day)}, baseTime); m != 1.0 {
		t.Errorf("14:00 multiplier = %v, want 1.0", m)
	}
}

func TestSpatialMultiplier(t *testing.T) {
	if m := spatialMultiplier(crimeintel.Context{CrimeIndex: 0.4}); m != 1.4 {
		t.Errorf("no escalation: %v, want 1.4", m)
	}
	if m := spatialMultiplier(crimeintel.Context{CrimeIndex: 0.4, EscalationRequired: true}); m != 1.7 {
		t.Errorf("escalation: %v, want 1.7", m)
	}
}

func TestCorrelationBreachPlusMotion(t *testing.T) {
	events := []schema.Event{
		{Type: "door", Confidence: 0.8, DeviceID: "door-1"},
		{Type: "motion", Confidence: 0.7, DeviceID: "cam-1"},
	}
	m, factors := correlationMultiplier(events, 0)
	if m != 2.0 {
		t.Errorf("breach+motion multiplier = %v, want 2.0", m)
	}
	if len(factors) != 1 {
		t.Errorf("factors = %v", factors)
	}
}

func TestCorrelationMultiDeviceMotion(t *testing.T) {
	events := []schema.Event{
		{Type: "motion", Confidence: 0.7, DeviceID: "cam-1"},
		{Type: "motion", Confidence: 0.7, DeviceID: "cam-2"},
	}
	if m, _ := correlationMultiplier(events, 0); m != 1.5 {
		t.Errorf("multi-device motion = %v, want 1.5", m)
	}
}

func TestCorrelationHeavySuppressionDiscount(t *testing.T) {
	events := []schema.Event{{Type: "motion", Confidence: 0.7, DeviceID: "cam-1"}}
	if m, _ := correlationMultiplier(events, 0.9); m != 0.5 {
		t.Errorf("heavy suppression = %v, want 0.5", m)
	}
}

func TestLegitimacyHomeMotion(t *testing.T) {
	events := []schema.Event{{Type: "motion", Confidence: 0.8}}
	if f := legitimacyFactor("home", events); f != 0.5 {
		t.Errorf("home motion = %v, want 0.5", f)
	}
	if f := legitimacyFactor("away", events); f != 1.0 {
		t.Errorf("away motion = %v, want 1.0", f)
	}
	if f := legitimacyFactor("home", []schema.Event{{Type: "door", Confidence: 0.8}}); f != 1.0 {
		t.Errorf("home door = %v, want 1.0", f)
	}
}

func TestAnalyzeScoreBounds(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	// Stack every boost: night, breach+motion, escalated area, peaked model.
	night := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	req := simpleRequest("away",
		schema.Event{Type: "glassbreak", Confidence: 0.99, Timestamp: at(night), DeviceID: "win-1"},
		motionEvent("cam-1", 0.95, night.Add(time.Second)),
		motionEvent("cam-2", 0.95, night.Add(2*time.Second)),
	)
	cc := crimeintel.Context{CrimeIndex: 0.9, EscalationRequired: true, RelevantCrimes: 8}
	res := e.Analyze(req, cc, []float64{0.01, 0.02, 0.07, 0.9}, baseTime)

	if res.Score < 0 || res.Score > 1 {
		t.Errorf("score %v outside [0,1]", res.Score)
	}
	if res.Score != 1.0 {
		t.Errorf("fully stacked boosts should clamp to 1.0, got %v", res.Score)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Errorf("confidence %v outside [0,1]", res.Confidence)
	}
	if res.Fallback {
		t.Error("fallback set on a healthy analysis")
	}
}

func TestAnalyzeEmptyRequest(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	res := e.Analyze(&schema.Request{SystemMode: "home"}, crimeintel.Context{}, threat.Uniform(), baseTime)
	if res.Score != 0 {
		t.Errorf("empty request score = %v, want 0", res.Score)
	}
	res = e.Analyze(nil, crimeintel.Context{}, threat.Uniform(), baseTime)
	if res.Score != 0 || res.Fallback {
		t.Errorf("nil request: %+v", res)
	}
}

func TestLevelFromScore(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	cases := []struct {
		score float64
		want  threat.Level
	}{
		{0.95, threat.Critical},
		{0.9, threat.Critical},
		{0.75, threat.Elevated},
		{0.5, threat.Standard},
		{0.3, threat.Standard},
		{0.1, threat.Ignore},
	}
	for _, c := range cases {
		if got := e.LevelFromScore(c.score); got != c.want {
			t.Errorf("LevelFromScore(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestMetaAgreementBonus(t *testing.T) {
	e := NewEngine(config.Default(), nil)
	// Model strongly predicts critical; a critical-range score earns the bonus.
	probs := []float64{0.01, 0.02, 0.07, 0.9}
	withBonus := e.metaConfidence(0.95, 0.6, probs)
	without := e.metaConfidence(0.5, 0.6, probs)
	if withBonus <= without {
		t.Errorf("agreement bonus missing: %v <= %v", withBonus, without)
	}
	if withBonus > 1.0 {
		t.Errorf("confidence %v exceeds 1.0", withBonus)
	}
}
