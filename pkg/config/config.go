// Package config holds the flat, immutable parameter set shared by every
// pipeline stage. Values are loaded once (defaults, then environment
// overrides) and treated as read-only for the process lifetime.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the single source of truth for all tunable parameters.
type Config struct {
	// Model
	NFeatures         int     // input vector dimensionality
	NClasses          int     // output classes (ignore/standard/elevated/critical)
	HiddenLayers      []int   // empty means a single input->output layer
	Activation        string  // relu, sigmoid, tanh, linear; default for artifacts that omit one
	WeightSecurityMax float64 // reject models with any |w| above this

	// Feature extraction
	FeatureCacheSize int
	FeatureCacheTTL  time.Duration
	MaxEventsPerReq  int
	MaxMetadataBytes int

	// Rule engine
	EmergencyThreshold float64
	PetThreshold       float64
	DoorOpenThreshold  float64
	NoiseAlertDecibels float64
	FaceKnownThreshold float64

	// Crime intelligence
	CrimeCacheTTL        time.Duration
	CrimeRecencyDays     int
	CrimeEscalationCount int
	CrimeRadiusKm        float64
	MaxCrimeIndex        float64

	// Reasoning
	DuplicateWindow time.Duration
	NightStartHour  int
	NightEndHour    int

	// Admission control
	RateLimitWindow   time.Duration
	RateLimitRequests int
	BurstAllowance    int
	CPUMaxPercent     float64
	MemoryMaxPercent  float64

	// Orchestrator
	RequestDeadline   time.Duration
	CriticalThreshold float64
	ElevatedThreshold float64
	StandardThreshold float64

	// Validation
	DecibelMax float64
}

// Default returns the production parameter set.
func Default() Config {
	return Config{
		NFeatures:         16384,
		NClasses:          4,
		HiddenLayers:      nil,
		Activation:        "relu",
		WeightSecurityMax: 5.0,

		FeatureCacheSize: 5000,
		FeatureCacheTTL:  30 * time.Minute,
		MaxEventsPerReq:  25,
		MaxMetadataBytes: 512,

		EmergencyThreshold: 0.95,
		PetThreshold:       0.85,
		DoorOpenThreshold:  0.75,
		NoiseAlertDecibels: 85,
		FaceKnownThreshold: 0.95,

		CrimeCacheTTL:        time.Hour,
		CrimeRecencyDays:     14,
		CrimeEscalationCount: 2,
		CrimeRadiusKm:        1.0,
		MaxCrimeIndex:        1.0,

		DuplicateWindow: 5 * time.Second,
		NightStartHour:  22,
		NightEndHour:    5,

		RateLimitWindow:   60 * time.Second,
		RateLimitRequests: 50,
		BurstAllowance:    10,
		CPUMaxPercent:     70,
		MemoryMaxPercent:  75,

		RequestDeadline:   100 * time.Millisecond,
		CriticalThreshold: 0.9,
		ElevatedThreshold: 0.7,
		StandardThreshold: 0.3,

		DecibelMax: 150,
	}
}

// FromEnv returns the default config with SENTRA_* environment overrides
// applied. Unparseable values fall back to the default silently; admission
// of a bad deployment config is the operator's problem, not the request path's.
func FromEnv() Config {
	c := Default()
	c.NFeatures = getenvInt("SENTRA_N_FEATURES", c.NFeatures)
	c.NClasses = getenvInt("SENTRA_N_CLASSES", c.NClasses)
	c.Activation = getenvStr("SENTRA_ACTIVATION", c.Activation)
	c.WeightSecurityMax = getenvFloat("SENTRA_WEIGHT_MAX", c.WeightSecurityMax)

	c.FeatureCacheSize = getenvInt("SENTRA_FEATURE_CACHE_SIZE", c.FeatureCacheSize)
	c.FeatureCacheTTL = getenvDur("SENTRA_FEATURE_CACHE_TTL", c.FeatureCacheTTL)
	c.MaxEventsPerReq = getenvInt("SENTRA_MAX_EVENTS", c.MaxEventsPerReq)
	c.MaxMetadataBytes = getenvInt("SENTRA_MAX_METADATA_BYTES", c.MaxMetadataBytes)

	c.EmergencyThreshold = getenvFloat("SENTRA_EMERGENCY_THRESHOLD", c.EmergencyThreshold)
	c.PetThreshold = getenvFloat("SENTRA_PET_THRESHOLD", c.PetThreshold)
	c.DoorOpenThreshold = getenvFloat("SENTRA_DOOR_THRESHOLD", c.DoorOpenThreshold)
	c.NoiseAlertDecibels = getenvFloat("SENTRA_NOISE_ALERT_DB", c.NoiseAlertDecibels)
	c.FaceKnownThreshold = getenvFloat("SENTRA_FACE_THRESHOLD", c.FaceKnownThreshold)

	c.CrimeCacheTTL = getenvDur("SENTRA_CRIME_CACHE_TTL", c.CrimeCacheTTL)
	c.CrimeRecencyDays = getenvInt("SENTRA_CRIME_RECENCY_DAYS", c.CrimeRecencyDays)
	c.CrimeEscalationCount = getenvInt("SENTRA_CRIME_ESCALATION_COUNT", c.CrimeEscalationCount)
	c.CrimeRadiusKm = getenvFloat("SENTRA_CRIME_RADIUS_KM", c.CrimeRadiusKm)

	c.DuplicateWindow = getenvDur("SENTRA_DUPLICATE_WINDOW", c.DuplicateWindow)

	c.RateLimitWindow = getenvDur("SENTRA_RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.RateLimitRequests = getenvInt("SENTRA_RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.BurstAllowance = getenvInt("SENTRA_BURST_ALLOWANCE", c.BurstAllowance)
	c.CPUMaxPercent = getenvFloat("SENTRA_CPU_MAX_PERCENT", c.CPUMaxPercent)
	c.MemoryMaxPercent = getenvFloat("SENTRA_MEMORY_MAX_PERCENT", c.MemoryMaxPercent)

	c.RequestDeadline = getenvDur("SENTRA_REQUEST_DEADLINE", c.RequestDeadline)
	c.CriticalThreshold = getenvFloat("SENTRA_CRITICAL_THRESHOLD", c.CriticalThreshold)
	c.ElevatedThreshold = getenvFloat("SENTRA_ELEVATED_THRESHOLD", c.ElevatedThreshold)
	c.StandardThreshold = getenvFloat("SENTRA_STANDARD_THRESHOLD", c.StandardThreshold)
	return c
}

// LayerSizes returns the full topology including input and output widths.
func (c Config) LayerSizes() []int {
	sizes := make([]int, 0, len(c.HiddenLayers)+2)
	sizes = append(sizes, c.NFeatures)
	sizes = append(sizes, c.HiddenLayers...)
	sizes = append(sizes, c.NClasses)
	return sizes
}

func getenvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
