package rules

import (
	"testing"

	"sentra/pkg/config"
	"sentra/pkg/schema"
	"sentra/pkg/threat"
)

func req(mode string, events ...schema.Event) *schema.Request {
	return &schema.Request{
		Events:     events,
		SystemMode: mode,
		Timestamp:  "2025-06-01T22:30:00Z",
	}
}

func ev(typ string, conf float64) schema.Event {
	return schema.Event{Type: typ, Confidence: conf, Timestamp: "2025-06-01T22:30:00Z"}
}

func TestEmergencyRule(t *testing.T) {
	e := NewEngine(config.Default())

	v, ok := e.Evaluate(req("home", ev("fire", 0.97)), nil)
	if !ok || v.Name != "emergency_fire" || v.Level != threat.Critical {
		t.Fatalf("fire 0.97: got %+v ok=%v, want emergency_fire/critical", v, ok)
	}

	if _, ok := e.Evaluate(req("home", ev("fire", 0.90)), nil); ok {
		t.Error("fire below emergency threshold must not match")
	}

	for _, typ := range []string{"smoke", "glassbreak"} {
		if v, ok := e.Evaluate(req("away", ev(typ, 0.96)), nil); !ok || v.Level != threat.Critical {
			t.Errorf("%s 0.96: got %+v ok=%v", typ, v, ok)
		}
	}
}

func TestEmergencyBeatsFalsePositive(t *testing.T) {
	e := NewEngine(config.Default())
	r := req("home", ev("pet", 0.95), ev("fire", 0.97))
	v, ok := e.Evaluate(r, nil)
	if !ok || v.Name != "emergency_fire" {
		t.Fatalf("fire must win over pet: got %+v ok=%v", v, ok)
	}
}

func TestHighNoiseAway(t *testing.T) {
	e := NewEngine(config.Default())
	loud := schema.Event{Type: "sound", Confidence: 0.8, Timestamp: "2025-06-01T22:30:00Z",
		Metadata: map[string]any{"decibels": 92.0}}

	v, ok := e.Evaluate(req("away", loud), nil)
	if !ok || v.Name != "high_noise_away" || v.Level != threat.Elevated {
		t.Fatalf("loud sound away: got %+v ok=%v", v, ok)
	}
	if _, ok := e.Evaluate(req("home", loud), nil); ok {
		t.Error("loud sound at home must not match the away rule")
	}

	quiet := schema.Event{Type: "sound", Confidence: 0.8, Timestamp: "2025-06-01T22:30:00Z",
		Metadata: map[string]any{"decibels": 60.0}}
	if _, ok := e.Evaluate(req("away", quiet), nil); ok {
		t.Error("quiet sound must not match")
	}
}

func TestUnknownFaceAway(t *testing.T) {
	e := NewEngine(config.Default())
	unknown := schema.Event{Type: "face", Confidence: 0.9, Timestamp: "2025-06-01T22:30:00Z",
		Metadata: map[string]any{"known": false}}
	known := schema.Event{Type: "face", Confidence: 0.97, Timestamp: "2025-06-01T22:30:00Z",
		Metadata: map[string]any{"known": true, "identity": "resident-1"}}

	if v, ok := e.Evaluate(req("away", unknown), nil); !ok || v.Name != "unknown_face_away" {
		t.Fatalf("unknown face away: got %+v ok=%v", v, ok)
	}
	// A confidently known face is the false-positive rule's territory.
	if v, ok := e.Evaluate(req("away", known), nil); !ok || v.Name != "known_face_detected" || v.Level != threat.Ignore {
		t.Fatalf("known face: got %+v ok=%v", v, ok)
	}
}

func TestDoorOpenAwayMode(t *testing.T) {
	e := NewEngine(config.Default())

	if v, ok := e.Evaluate(req("away", ev("door", 0.8)), nil); !ok || v.Name != "door_open_away_mode" {
		t.Fatalf("door 0.8 away: got %+v ok=%v", v, ok)
	}
	if _, ok := e.Evaluate(req("away", ev("door", 0.5)), nil); ok {
		t.Error("door below threshold must not match")
	}
	if _, ok := e.Evaluate(req("home", ev("door", 0.9)), nil); ok {
		t.Error("door at home must not match")
	}
}

func TestNightMotion(t *testing.T) {
	e := NewEngine(config.Default())

	if v, ok := e.Evaluate(req("night", ev("motion", 0.85)), nil); !ok || v.Name != "night_motion_detected" {
		t.Fatalf("night motion 0.85: got %+v ok=%v", v, ok)
	}
	if _, ok := e.Evaluate(req("night", ev("motion", 0.6)), nil); ok {
		t.Error("weak night motion must not match")
	}
	if _, ok := e.Evaluate(req("home", ev("motion", 0.9)), nil); ok {
		t.Error("motion at home must not match any rule")
	}
}

func TestFalsePositivePet(t *testing.T) {
	e := NewEngine(config.Default())

	v, ok := e.Evaluate(req("home", ev("pet", 0.90)), nil)
	if !ok || v.Name != "pet_detected" || v.Level != threat.Ignore {
		t.Fatalf("pet 0.90: got %+v ok=%v, want pet_detected/ignore", v, ok)
	}
	if _, ok := e.Evaluate(req("home", ev("pet", 0.5)), nil); ok {
		t.Error("low-confidence pet must not match")
	}
}

func TestNoMatchFallsThrough(t *testing.T) {
	e := NewEngine(config.Default())
	if _, ok := e.Evaluate(req("home", ev("motion", 0.4)), nil); ok {
		t.Error("benign motion should fall through to reasoning")
	}
	if _, ok := e.Evaluate(nil, nil); ok {
		t.Error("nil request must not match")
	}
}
