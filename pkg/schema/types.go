// Package schema defines the wire-level request and response structures and
// the pure validation pass that gates every request before expensive work.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Valid event-type and system-mode vocabularies. Fixed at build time;
// anything outside these sets is a validation error, never a crash.
var (
	EventTypes = map[string]bool{
		"motion": true, "sound": true, "door": true, "window": true,
		"face": true, "smoke": true, "fire": true, "glassbreak": true,
		"pet": true, "vehicle": true,
	}
	SystemModes = map[string]bool{
		"home": true, "away": true, "night": true, "vacation": true, "office": true,
	}
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DeviceInfo carries optional reporting-device state.
type DeviceInfo struct {
	Battery *float64 `json:"battery,omitempty"`
}

// Event is a single sensor observation. Immutable once parsed.
type Event struct {
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Timestamp  string         `json:"timestamp"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Time parses the event timestamp. See ParseTimestamp.
func (e Event) Time() (time.Time, error) {
	return ParseTimestamp(e.Timestamp)
}

// ParseTimestamp accepts RFC 3339 (Z or numeric offset) and the offset-less
// ISO-8601 form some sensor firmware emits; the latter is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// Device returns the reporting device ID, falling back to the legacy
// metadata field used by older sensor firmware.
func (e Event) Device() string {
	if e.DeviceID != "" {
		return e.DeviceID
	}
	if v, ok := e.Metadata["deviceId"].(string); ok {
		return v
	}
	return ""
}

// MetadataFloat reads a numeric metadata value, accepting both float64 and
// json.Number decodings.
func (e Event) MetadataFloat(key string) (float64, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// MetadataBool reads a boolean metadata value.
func (e Event) MetadataBool(key string) (bool, bool) {
	b, ok := e.Metadata[key].(bool)
	return b, ok
}

// Request is one threat-assessment call. Constructed once, never mutated.
type Request struct {
	Events     []Event     `json:"events"`
	SystemMode string      `json:"systemMode"`
	Location   *Location   `json:"location"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// DecodeRequest parses a raw JSON payload into a Request.
func DecodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// ReasoningSummary is the explainable portion of a verdict.
type ReasoningSummary struct {
	PrimaryFactors  []string           `json:"primaryFactors"`
	RuleApplied     string             `json:"ruleApplied,omitempty"`
	LayerAnalysis   map[string]float64 `json:"layerAnalysis"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// ContextSummary is the sanitized crime/location context echoed to the caller.
type ContextSummary struct {
	SystemMode     string   `json:"systemMode,omitempty"`
	RiskZone       int      `json:"riskZone"`
	CrimeIndex     float64  `json:"crimeIndex"`
	RelevantCrimes int      `json:"relevantCrimes"`
	RiskFactors    []string `json:"riskFactors,omitempty"`
	Battery        *float64 `json:"battery,omitempty"`
}

// SystemStatus reports pipeline health alongside the verdict.
type SystemStatus struct {
	Healthy        bool `json:"healthy"`
	FallbackActive bool `json:"fallbackActive"`
}

// SecurityStatus reports the integrity checks applied to this request.
type SecurityStatus struct {
	RequestValidated bool `json:"requestValidated"`
	ModelVerified    bool `json:"modelVerified"`
	SignatureValid   bool `json:"signatureValid"`
}

// Response is the single envelope returned on every exit path. Success
// responses carry the verdict fields; failures carry Error plus the code and
// details, with a conservative fallback assessment so callers always have a
// structurally complete object.
type Response struct {
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`

	ThreatLevel             string             `json:"threatLevel,omitempty"`
	Confidence              float64            `json:"confidence"`
	ProbabilityDistribution map[string]float64 `json:"probabilityDistribution,omitempty"`
	Reasoning               *ReasoningSummary  `json:"reasoning,omitempty"`
	Context                 *ContextSummary    `json:"context,omitempty"`
	ProcessingTimeMs        float64            `json:"processingTimeMs"`
	SystemStatus            SystemStatus       `json:"systemStatus"`
	Security                *SecurityStatus    `json:"security,omitempty"`

	Error     bool           `json:"error,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
