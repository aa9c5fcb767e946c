package crimeintel

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Incident is a single reported crime near a monitored location.
type Incident struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    float64   `json:"severity"` // 0..1
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	OccurredAt  time.Time `json:"occurredAt"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"` // originating feed, e.g. "police_api"
}

// Stats is an aggregate view of the incident feed.
type Stats struct {
	TotalIncidents int            `json:"totalIncidents"`
	ByType         map[string]int `json:"byType"`
}

// Store is the incident backend. Implementations must be safe for
// concurrent use.
type Store interface {
	// QueryNearby returns incidents within radiusKm of (lat, lon) that
	// occurred at or after since, newest first.
	QueryNearby(ctx context.Context, lat, lon, radiusKm float64, since time.Time) ([]Incident, error)
	// Insert stores a new incident report.
	Insert(ctx context.Context, inc Incident) error
	// Stats returns aggregate counts over the whole feed.
	Stats(ctx context.Context) (Stats, error)
}

// MemoryStore is the embedded default backend. It holds incidents in memory
// with a coarse bounding-box prefilter before the exact distance check.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents []Incident
}

// NewMemoryStore creates an empty in-memory store, optionally seeded.
func NewMemoryStore(seed ...Incident) *MemoryStore {
	s := &MemoryStore{}
	s.incidents = append(s.incidents, seed...)
	return s
}

func (s *MemoryStore) QueryNearby(_ context.Context, lat, lon, radiusKm float64, since time.Time) ([]Incident, error) {
	box := BoxAround(lat, lon, radiusKm)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Incident
	for _, inc := range s.incidents {
		if inc.OccurredAt.Before(since) {
			continue
		}
		if !box.Contains(inc.Lat, inc.Lon) {
			continue
		}
		if HaversineKm(lat, lon, inc.Lat, inc.Lon) > radiusKm {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, inc Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, inc)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalIncidents: len(s.incidents), ByType: make(map[string]int)}
	for _, inc := range s.incidents {
		st.ByType[inc.Type]++
	}
	return st, nil
}
