package features

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// PostGISSource reads features from a PostGIS table, converting geometries
// server-side with ST_AsGeoJSON.
type PostGISSource struct {
	pool       *pgxpool.Pool
	table      string
	idColumn   string
	geomColumn string
}

// OpenPostGIS connects to dsn and verifies the connection.
func OpenPostGIS(ctx context.Context, dsn, table, idColumn, geomColumn string) (*PostGISSource, error) {
	for _, name := range []string{table, idColumn, geomColumn} {
		if err := checkIdentifier(name); err != nil {
			return nil, err
		}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &PostGISSource{pool: pool, table: table, idColumn: idColumn, geomColumn: geomColumn}, nil
}

// Close closes the connection pool.
func (s *PostGISSource) Close() {
	s.pool.Close()
}

// Load implements Source.
func (s *PostGISSource) Load(ctx context.Context, ids IDRange) ([]Feature, error) {
	query := fmt.Sprintf(
		"SELECT %s::bigint, ST_AsGeoJSON(%s) FROM %s WHERE %s > $1 AND %s < $2 ORDER BY %s",
		s.idColumn, s.geomColumn, s.table, s.idColumn, s.idColumn, s.idColumn,
	)
	rows, err := s.pool.Query(ctx, query, ids.Min, ids.Max)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var all []Feature
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		var g geojson.Geometry
		if err := json.Unmarshal([]byte(body), &g); err != nil {
			return nil, fmt.Errorf("%w: feature %d: %v", ErrInvalidFeature, id, err)
		}
		all = append(all, Feature{ID: id, Geometry: &g})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feature rows: %w", err)
	}
	return collect(all, ids)
}
