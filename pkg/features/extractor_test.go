package features

import (
	"math"
	"testing"
	"time"

	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/schema"
)

func testRequest() *schema.Request {
	return &schema.Request{
		Events: []schema.Event{
			{Type: "motion", Confidence: 0.8, Timestamp: "2025-06-01T22:30:00Z", DeviceID: "cam-1",
				Metadata: map[string]any{"zone": "backyard"}},
			{Type: "door", Confidence: 0.6, Timestamp: "2025-06-01T22:30:02Z", DeviceID: "door-1"},
		},
		SystemMode: "away",
		Location:   &schema.Location{Lat: 37.77, Lon: -122.42},
		Timestamp:  "2025-06-01T22:30:05Z",
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	now := time.Now()
	cc := crimeintel.Context{CrimeIndex: 0.3, RelevantCrimes: 2, EscalationRequired: true}

	a := e.Extract(testRequest(), cc, now)
	b := e.Extract(testRequest(), cc, now)
	if len(a) != config.Default().NFeatures {
		t.Fatalf("vector length = %d, want %d", len(a), config.Default().NFeatures)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at slot %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExtractReservedSlots(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	cc := crimeintel.Context{CrimeIndex: 0.4, RelevantCrimes: 5, EscalationRequired: true}
	vec := e.Extract(testRequest(), cc, time.Now())

	if vec[slotEventTypeBase+eventTypeSlots["motion"]] != 1.0 {
		t.Error("motion one-hot not set")
	}
	if vec[slotEventTypeBase+eventTypeSlots["door"]] != 1.0 {
		t.Error("door one-hot not set")
	}
	if vec[slotEventTypeBase+eventTypeSlots["fire"]] != 0 {
		t.Error("fire one-hot set without a fire event")
	}
	if vec[slotModeBase+modeSlots["away"]] != 1.0 {
		t.Error("away mode one-hot not set")
	}
	if math.Abs(vec[slotConfMean]-0.7) > 1e-9 {
		t.Errorf("confMean = %v, want 0.7", vec[slotConfMean])
	}
	if vec[slotConfMax] != 0.8 || vec[slotConfMin] != 0.6 {
		t.Errorf("conf bounds = %v/%v, want 0.8/0.6", vec[slotConfMax], vec[slotConfMin])
	}
	if vec[slotCrimeIndex] != 0.4 {
		t.Errorf("crimeIndex slot = %v, want 0.4", vec[slotCrimeIndex])
	}
	if vec[slotCrimeEscalate] != 1.0 {
		t.Error("escalation slot not set")
	}

	// 22:30 request time.
	hourSin := math.Sin(2 * math.Pi * 22.0 / 24.0)
	if math.Abs(vec[slotHourSin]-hourSin) > 1e-9 {
		t.Errorf("hourSin = %v, want %v", vec[slotHourSin], hourSin)
	}
}

func TestExtractCalendarSlots(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	// 2025-06-01 is a Sunday, so the day-of-week angle is zero.
	vec := e.Extract(testRequest(), crimeintel.Context{}, time.Now())

	if math.Abs(vec[slotDaySin]-0) > 1e-9 || math.Abs(vec[slotDayCos]-1) > 1e-9 {
		t.Errorf("day slots = %v/%v, want 0/1 for Sunday", vec[slotDaySin], vec[slotDayCos])
	}
	monthSin := math.Sin(2 * math.Pi * 5.0 / 12.0)
	monthCos := math.Cos(2 * math.Pi * 5.0 / 12.0)
	if math.Abs(vec[slotMonthSin]-monthSin) > 1e-9 || math.Abs(vec[slotMonthCos]-monthCos) > 1e-9 {
		t.Errorf("month slots = %v/%v, want %v/%v for June", vec[slotMonthSin], vec[slotMonthCos], monthSin, monthCos)
	}
}

func TestExtractConfidenceStddev(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	// Confidences 0.8 and 0.6: mean 0.7, population stddev 0.1.
	vec := e.Extract(testRequest(), crimeintel.Context{}, time.Now())
	if math.Abs(vec[slotConfStd]-0.1) > 1e-9 {
		t.Errorf("confStd = %v, want 0.1", vec[slotConfStd])
	}

	uniform := e.Extract(&schema.Request{
		Events:     []schema.Event{{Type: "motion", Confidence: 0.5, Timestamp: "2025-06-01T10:00:00Z"}},
		SystemMode: "home",
	}, crimeintel.Context{}, time.Now())
	if uniform[slotConfStd] != 0 {
		t.Errorf("single-event confStd = %v, want 0", uniform[slotConfStd])
	}
}

func TestExtractHashedSlotsInRange(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg, nil)
	vec := e.Extract(testRequest(), crimeintel.Context{}, time.Now())

	nonzero := 0
	for i := hashedBase; i < cfg.NFeatures; i++ {
		if vec[i] != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Error("no hashed features were set")
	}
}

func TestExtractNilRequestZeroVector(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	vec := e.Extract(nil, crimeintel.Context{}, time.Now())
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("slot %d = %v in zero vector", i, v)
		}
	}
}

func TestExtractCacheHit(t *testing.T) {
	e := NewExtractor(config.Default(), nil)
	now := time.Now()
	cc := crimeintel.Context{CrimeIndex: 0.2}

	_ = e.Extract(testRequest(), cc, now)
	_ = e.Extract(testRequest(), cc, now)
	hits, misses, size := e.CacheStats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("cache stats hits=%d misses=%d size=%d, want 1/1/1", hits, misses, size)
	}
}

func TestCacheEvictionAndTTL(t *testing.T) {
	c := newVectorCache(2, time.Minute)
	now := time.Now()

	c.put("a", []float64{1}, now)
	c.put("b", []float64{2}, now)
	c.put("c", []float64{3}, now) // evicts a
	if _, ok := c.get("a", now); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.get("b", now); !ok {
		t.Error("entry b evicted prematurely")
	}

	if _, ok := c.get("b", now.Add(2*time.Minute)); ok {
		t.Error("expired entry served")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newVectorCache(10, time.Minute)
	now := time.Now()
	c.put("k", []float64{1, 2, 3}, now)

	v1, _ := c.get("k", now)
	v1[0] = 99
	v2, _ := c.get("k", now)
	if v2[0] != 1 {
		t.Error("cache entry was mutated through a returned slice")
	}
}
