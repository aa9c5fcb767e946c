package crimeintel

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore backs the incident feed with Postgres. Intended for
// deployments where incident data is ingested by an external feed; the
// embedded MemoryStore remains the default.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, verifies connectivity, and applies
// any pending schema migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryNearby(ctx context.Context, lat, lon, radiusKm float64, since time.Time) ([]Incident, error) {
	box := BoxAround(lat, lon, radiusKm)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, lat, lon, occurred_at, description, source
		FROM crime_incidents
		WHERE occurred_at >= $1
		  AND lat BETWEEN $2 AND $3
		  AND lon BETWEEN $4 AND $5
		ORDER BY occurred_at DESC`,
		since, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.Type, &inc.Severity, &inc.Lat, &inc.Lon, &inc.OccurredAt, &inc.Description, &inc.Source); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		// Exact distance filter on top of the index-friendly box query.
		if HaversineKm(lat, lon, inc.Lat, inc.Lon) <= radiusKm {
			out = append(out, inc)
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, inc Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crime_incidents (id, type, severity, lat, lon, occurred_at, description, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.Type, inc.Severity, inc.Lat, inc.Lon, inc.OccurredAt, inc.Description, inc.Source)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM crime_incidents GROUP BY type`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	st := Stats{ByType: make(map[string]int)}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.ByType[typ] = n
		st.TotalIncidents += n
	}
	return st, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
