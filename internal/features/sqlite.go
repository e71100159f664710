package features

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

// SQLiteSource reads features from a table with an integer ID column and a
// WKT geometry column.
type SQLiteSource struct {
	db         *sql.DB
	table      string
	idColumn   string
	geomColumn string
}

// OpenSQLite opens the database at path. The caller must Close the source.
func OpenSQLite(path, table, idColumn, geomColumn string) (*SQLiteSource, error) {
	for _, name := range []string{table, idColumn, geomColumn} {
		if err := checkIdentifier(name); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &SQLiteSource{db: db, table: table, idColumn: idColumn, geomColumn: geomColumn}, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Load implements Source.
func (s *SQLiteSource) Load(ctx context.Context, ids IDRange) ([]Feature, error) {
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s > ? AND %s < ? ORDER BY %s",
		s.idColumn, s.geomColumn, s.table, s.idColumn, s.idColumn, s.idColumn,
	)
	rows, err := s.db.QueryContext(ctx, query, ids.Min, ids.Max)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var all []Feature
	for rows.Next() {
		var (
			id  int64
			wkt string
		)
		if err := rows.Scan(&id, &wkt); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		g, err := geojson.FromWKT(wkt)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %v", ErrInvalidFeature, id, err)
		}
		all = append(all, Feature{ID: id, Geometry: g})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feature rows: %w", err)
	}
	return collect(all, ids)
}
