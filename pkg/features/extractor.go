// Package features turns a validated request plus its crime context into the
// fixed-width numeric vector the model consumes. Extraction is deterministic:
// the same request and context always produce the same vector, which makes
// the content-addressed cache sound.
package features

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/sha3"

	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/logging"
	"sentra/pkg/schema"
)

// Reserved slot layout. Everything below hashedBase is a named feature;
// hashed event features land at hashedBase and above.
const (
	slotEventTypeBase = 0  // one-hot over the event-type vocabulary, 10 slots
	slotHourSin       = 20 // time-of-day on the unit circle
	slotHourCos       = 21
	slotConfMean      = 22
	slotConfMax       = 23
	slotConfMin       = 24
	slotEventCount    = 25
	slotModeBase      = 26 // one-hot over system modes, 5 slots
	slotLat           = 31 // normalized to [-1,1]
	slotLon           = 32
	slotDaySin        = 33 // day-of-week on the unit circle
	slotDayCos        = 34
	slotMonthSin      = 35 // month on the unit circle
	slotMonthCos      = 36
	slotConfStd       = 37
	slotCrimeIndex    = 41
	slotCrimeCount    = 42
	slotCrimeEscalate = 43
	hashedBase        = 50
)

// eventTypeSlots and modeSlots fix the one-hot positions independently of
// map iteration order.
var (
	eventTypeSlots = map[string]int{
		"motion": 0, "sound": 1, "door": 2, "window": 3, "face": 4,
		"smoke": 5, "fire": 6, "glassbreak": 7, "pet": 8, "vehicle": 9,
	}
	modeSlots = map[string]int{
		"home": 0, "away": 1, "night": 2, "vacation": 3, "office": 4,
	}
)

// Extractor builds feature vectors and caches them by content hash.
type Extractor struct {
	cfg   config.Config
	cache *vectorCache
	log   *logging.Logger
}

// NewExtractor creates an extractor with the configured cache size and TTL.
func NewExtractor(cfg config.Config, log *logging.Logger) *Extractor {
	if log == nil {
		log = logging.New("features", logging.LevelInfo, nil)
	}
	return &Extractor{
		cfg:   cfg,
		cache: newVectorCache(cfg.FeatureCacheSize, cfg.FeatureCacheTTL),
		log:   log,
	}
}

// Extract returns the feature vector for a request. On any internal failure
// it returns the zero vector so the pipeline keeps moving; the model then
// leans on rules and reasoning rather than crashing the request.
func (e *Extractor) Extract(req *schema.Request, cc crimeintel.Context, now time.Time) []float64 {
	key, err := cacheKey(req, cc)
	if err == nil {
		if vec, ok := e.cache.get(key, now); ok {
			return vec
		}
	}

	vec := make([]float64, e.cfg.NFeatures)
	if req == nil {
		return vec
	}
	e.fillReserved(vec, req, cc, now)
	e.fillHashed(vec, req.Events)

	if err == nil {
		e.cache.put(key, vec, now)
	} else {
		e.log.Warn("feature cache key failed, skipping cache", logging.Fields{"error": err.Error()})
	}
	return vec
}

// CacheStats exposes hit/miss counters for the health endpoint.
func (e *Extractor) CacheStats() (hits, misses uint64, size int) {
	return e.cache.stats()
}

func (e *Extractor) fillReserved(vec []float64, req *schema.Request, cc crimeintel.Context, now time.Time) {
	confMin, confMax, confSum := 1.0, 0.0, 0.0
	for _, ev := range req.Events {
		if slot, ok := eventTypeSlots[ev.Type]; ok {
			vec[slotEventTypeBase+slot] = 1.0
		}
		if ev.Confidence < confMin {
			confMin = ev.Confidence
		}
		if ev.Confidence > confMax {
			confMax = ev.Confidence
		}
		confSum += ev.Confidence
	}
	n := len(req.Events)
	if n > 0 {
		mean := confSum / float64(n)
		vec[slotConfMean] = mean
		vec[slotConfMax] = confMax
		vec[slotConfMin] = confMin
		var sqSum float64
		for _, ev := range req.Events {
			d := ev.Confidence - mean
			sqSum += d * d
		}
		vec[slotConfStd] = math.Sqrt(sqSum / float64(n))
	}
	vec[slotEventCount] = float64(n) / float64(e.cfg.MaxEventsPerReq)

	at := eventTime(req, now)
	hour := float64(at.Hour())
	vec[slotHourSin] = math.Sin(2 * math.Pi * hour / 24.0)
	vec[slotHourCos] = math.Cos(2 * math.Pi * hour / 24.0)
	day := float64(at.Weekday())
	vec[slotDaySin] = math.Sin(2 * math.Pi * day / 7.0)
	vec[slotDayCos] = math.Cos(2 * math.Pi * day / 7.0)
	month := float64(at.Month() - 1)
	vec[slotMonthSin] = math.Sin(2 * math.Pi * month / 12.0)
	vec[slotMonthCos] = math.Cos(2 * math.Pi * month / 12.0)

	if slot, ok := modeSlots[req.SystemMode]; ok {
		vec[slotModeBase+slot] = 1.0
	}
	if req.Location != nil {
		vec[slotLat] = req.Location.Lat / 90.0
		vec[slotLon] = req.Location.Lon / 180.0
	}

	vec[slotCrimeIndex] = cc.CrimeIndex
	vec[slotCrimeCount] = math.Min(float64(cc.RelevantCrimes)/10.0, 1.0)
	if cc.EscalationRequired {
		vec[slotCrimeEscalate] = 1.0
	}
}

// fillHashed maps sparse event detail into the tail of the vector with the
// hashing trick: each token's SHA3 picks a slot in [hashedBase, nFeatures).
func (e *Extractor) fillHashed(vec []float64, events []schema.Event) {
	span := e.cfg.NFeatures - hashedBase
	if span <= 0 {
		return
	}
	for _, ev := range events {
		e.addToken(vec, span, "type="+ev.Type, ev.Confidence)
		if dev := ev.Device(); dev != "" {
			e.addToken(vec, span, "device="+dev, 1.0)
		}
		for k, v := range ev.Metadata {
			e.addToken(vec, span, fmt.Sprintf("%s=%v", k, v), 1.0)
		}
	}
}

func (e *Extractor) addToken(vec []float64, span int, token string, weight float64) {
	sum := sha3.Sum256([]byte(token))
	idx := hashedBase + int(binary.BigEndian.Uint64(sum[:8])%uint64(span))
	vec[idx] += weight
}

// eventTime picks the instant driving the cyclical time features, preferring
// the request's own timestamp over the arrival clock.
func eventTime(req *schema.Request, now time.Time) time.Time {
	if req.Timestamp != "" {
		if t, err := schema.ParseTimestamp(req.Timestamp); err == nil {
			return t
		}
	}
	return now
}

// cacheKey is the SHA3-256 of the canonical JSON of (request, context).
// encoding/json sorts map keys, so equal inputs always hash equally.
func cacheKey(req *schema.Request, cc crimeintel.Context) (string, error) {
	payload, err := json.Marshal(struct {
		Req *schema.Request    `json:"req"`
		CC  crimeintel.Context `json:"cc"`
	}{req, cc})
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	sum := sha3.Sum256(payload)
	return string(sum[:]), nil
}
