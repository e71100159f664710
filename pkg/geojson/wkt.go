package geojson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// ToWKT converts a Polygon or MultiPolygon to WKT, the format the ASF
// intersectsWith parameter expects.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}

	switch g.Type {
	case TypePolygon:
		rings, err := g.Polygon()
		if err != nil {
			return "", err
		}
		body, err := ringsToWKT(rings)
		if err != nil {
			return "", err
		}
		return "POLYGON" + body, nil
	case TypeMultiPolygon:
		polygons, err := g.MultiPolygon()
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(polygons))
		for _, rings := range polygons {
			body, err := ringsToWKT(rings)
			if err != nil {
				return "", err
			}
			parts = append(parts, body)
		}
		return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")", nil
	default:
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}
}

func ringsToWKT(rings [][][]float64) (string, error) {
	out := make([]string, 0, len(rings))
	for _, ring := range rings {
		points := make([]string, len(ring))
		for i, point := range ring {
			if len(point) < 2 {
				return "", fmt.Errorf("invalid point in ring: expected at least 2 coordinates")
			}
			points[i] = formatFloat(point[0]) + " " + formatFloat(point[1])
		}
		out = append(out, "("+strings.Join(points, ",")+")")
	}
	return "(" + strings.Join(out, ",") + ")", nil
}

// FromWKT parses a POLYGON or MULTIPOLYGON WKT string. Reservoir tables in
// SQLite keep their outlines in this form. Keywords are case-insensitive and
// whitespace around punctuation is ignored.
func FromWKT(s string) (*Geometry, error) {
	canonical, err := canonicalWKT(s)
	if err != nil {
		return nil, err
	}

	g, err := wkt.Unmarshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("invalid WKT: %w", err)
	}

	switch v := g.(type) {
	case orb.Polygon:
		return NewPolygon(fromOrb(v))
	case orb.MultiPolygon:
		polygons := make([][][][]float64, 0, len(v))
		for _, poly := range v {
			polygons = append(polygons, fromOrb(poly))
		}
		coordsJSON, err := json.Marshal(polygons)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal coordinates: %w", err)
		}
		return &Geometry{Type: TypeMultiPolygon, Coordinates: coordsJSON}, nil
	default:
		return nil, fmt.Errorf("unsupported WKT geometry type %q", g.GeoJSONType())
	}
}

// canonicalWKT upper-cases the keyword, drops whitespace next to
// punctuation and checks that parentheses balance.
func canonicalWKT(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty WKT string")
	}
	open := strings.Index(s, "(")
	if open == -1 {
		return "", fmt.Errorf("invalid WKT: missing parentheses")
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(s[:open])))
	depth := 0
	prev := '('
	for _, field := range strings.Fields(s[open:]) {
		if !isWKTPunct(prev) && !isWKTPunct(rune(field[0])) {
			b.WriteByte(' ')
		}
		for _, c := range field {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return "", fmt.Errorf("invalid WKT: unmatched parentheses")
				}
			}
			b.WriteRune(c)
			prev = c
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("invalid WKT: unmatched parentheses")
	}
	return b.String(), nil
}

func isWKTPunct(c rune) bool {
	return c == '(' || c == ')' || c == ','
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
