package crimeintel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"sentra/pkg/config"
	"sentra/pkg/logging"
)

// Crime type categories. Unknown types fall into the "other" weight.
var (
	violentTypes  = map[string]bool{"assault": true, "robbery": true, "homicide": true, "weapons": true}
	propertyTypes = map[string]bool{"burglary": true, "theft": true, "vandalism": true, "arson": true, "vehicle_theft": true}
)

const (
	weightViolent  = 1.0
	weightProperty = 0.7
	weightOther    = 0.3
	decayRate      = 0.1 // per day
	indexDivisor   = 5.0
)

// Context is the crime picture around one location, consumed by the spatial
// reasoning layer and echoed (sanitized) in the response.
type Context struct {
	CrimeIndex         float64  `json:"crimeIndex"`
	RelevantCrimes     int      `json:"relevantCrimes"`
	EscalationRequired bool     `json:"escalationRequired"`
	RiskZone           int      `json:"riskZone"` // 0 low .. 3 severe
	RiskFactors        []string `json:"riskFactors,omitempty"`
	Incidents24h       int      `json:"incidents24h"`
	Incidents7d        int      `json:"incidents7d"`
	Incidents30d       int      `json:"incidents30d"`
	Rate24h            float64  `json:"rate24h"` // incidents per day within each window
	Rate7d             float64  `json:"rate7d"`
	Rate30d            float64  `json:"rate30d"`
	AvgSeverity        float64  `json:"avgSeverity"`
}

// Neutral is the context used when no location is supplied or the store
// fails: zero risk, no escalation.
func Neutral() Context {
	return Context{}
}

type cacheEntry struct {
	ctx     Context
	expires time.Time
}

// Service computes crime context with a TTL cache over quantized
// coordinates. Store failures degrade to the neutral context; they never
// fail an assessment.
type Service struct {
	cfg   config.Config
	store Store
	log   *logging.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewService builds the service around a store. A nil store always yields
// the neutral context.
func NewService(cfg config.Config, store Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New("crimeintel", logging.LevelInfo, nil)
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   log,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// ContextFor returns the crime context around (lat, lon). Results are cached
// per quantized coordinate cell for the configured TTL.
func (s *Service) ContextFor(ctx context.Context, lat, lon float64) Context {
	if s.store == nil {
		return Neutral()
	}
	key := s.cacheKey(lat, lon)
	now := s.now()

	s.mu.Lock()
	if e, ok := s.cache[key]; ok && now.Before(e.expires) {
		s.mu.Unlock()
		return e.ctx
	}
	s.mu.Unlock()

	since := now.AddDate(0, 0, -s.cfg.CrimeRecencyDays)
	incidents, err := s.store.QueryNearby(ctx, lat, lon, s.cfg.CrimeRadiusKm, since)
	if err != nil {
		s.log.Warn("crime store query failed, using neutral context", logging.Fields{"error": err.Error()})
		return Neutral()
	}
	cc := s.build(incidents, now)

	s.mu.Lock()
	s.cache[key] = cacheEntry{ctx: cc, expires: now.Add(s.cfg.CrimeCacheTTL)}
	s.mu.Unlock()
	return cc
}

// Report adds an incident and invalidates the cache so the next lookup sees
// it.
func (s *Service) Report(ctx context.Context, inc Incident) error {
	if s.store == nil {
		return fmt.Errorf("no incident store configured")
	}
	if err := s.store.Insert(ctx, inc); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
	return nil
}

// StoreStats exposes aggregate incident-feed counts.
func (s *Service) StoreStats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{ByType: map[string]int{}}, nil
	}
	return s.store.Stats(ctx)
}

func (s *Service) build(incidents []Incident, now time.Time) Context {
	cc := Context{RelevantCrimes: len(incidents)}
	if len(incidents) == 0 {
		return cc
	}

	var sum, sevSum float64
	var violentSeen bool
	for _, inc := range incidents {
		daysAgo := now.Sub(inc.OccurredAt).Hours() / 24.0
		if daysAgo < 0 {
			daysAgo = 0
		}
		w := weightOther
		switch {
		case violentTypes[inc.Type]:
			w = weightViolent
			violentSeen = true
		case propertyTypes[inc.Type]:
			w = weightProperty
		}
		sum += w * math.Exp(-decayRate*daysAgo)
		sevSum += inc.Severity

		age := now.Sub(inc.OccurredAt)
		if age <= 24*time.Hour {
			cc.Incidents24h++
		}
		if age <= 7*24*time.Hour {
			cc.Incidents7d++
		}
		if age <= 30*24*time.Hour {
			cc.Incidents30d++
		}
	}

	cc.Rate24h = float64(cc.Incidents24h)
	cc.Rate7d = float64(cc.Incidents7d) / 7.0
	cc.Rate30d = float64(cc.Incidents30d) / 30.0

	idx := sum / indexDivisor
	if idx > s.cfg.MaxCrimeIndex {
		idx = s.cfg.MaxCrimeIndex
	}
	cc.CrimeIndex = idx
	cc.AvgSeverity = sevSum / float64(len(incidents))
	cc.EscalationRequired = len(incidents) >= s.cfg.CrimeEscalationCount
	cc.RiskZone = riskZone(idx)

	if len(incidents) > 10 {
		cc.RiskFactors = append(cc.RiskFactors, "high_incident_density")
	}
	if cc.AvgSeverity >= 0.7 {
		cc.RiskFactors = append(cc.RiskFactors, "high_severity")
	}
	if cc.Incidents24h > 0 {
		cc.RiskFactors = append(cc.RiskFactors, "recent_activity")
	}
	if violentSeen {
		cc.RiskFactors = append(cc.RiskFactors, "violent_crime_nearby")
	}
	return cc
}

func riskZone(index float64) int {
	switch {
	case index >= 0.75:
		return 3
	case index >= 0.5:
		return 2
	case index >= 0.25:
		return 1
	default:
		return 0
	}
}

// cacheKey quantizes coordinates to ~100m cells so nearby lookups share an
// entry.
func (s *Service) cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.3f:%.3f:%.1f", lat, lon, s.cfg.CrimeRadiusKm)
}
