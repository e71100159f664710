// Package export writes per-partition result tables to a sink.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// Header is the column layout of every exported table.
var Header = []string{"ID", "water_area", "stad_area", "date"}

// ErrInvalidTable is returned for tables whose name or folder cannot be used
// as a path component.
var ErrInvalidTable = errors.New("invalid table")

// Row is one feature's time series. The three sequences have equal length and
// are ordered by date.
type Row struct {
	ID        int64
	Dates     []time.Time
	WaterArea []float64
	ValidArea []float64
}

// Table is one partition's output.
type Table struct {
	Name   string
	Folder string
	Rows   []Row
}

// Sink persists tables.
type Sink interface {
	Export(ctx context.Context, table Table) error
}

// Key returns the relative object path "<folder>/<name>.csv".
func (t Table) Key() string {
	return path.Join(t.Folder, t.Name+".csv")
}

// Validate checks the table name and folder and row shapes.
func (t Table) Validate() error {
	if t.Name == "" || strings.ContainsAny(t.Name, `/\`) || t.Name == "." || t.Name == ".." {
		return fmt.Errorf("%w: bad name %q", ErrInvalidTable, t.Name)
	}
	for _, part := range strings.Split(t.Folder, "/") {
		if part == ".." || strings.Contains(part, `\`) {
			return fmt.Errorf("%w: bad folder %q", ErrInvalidTable, t.Folder)
		}
	}
	for _, r := range t.Rows {
		if len(r.Dates) != len(r.WaterArea) || len(r.Dates) != len(r.ValidArea) {
			return fmt.Errorf("%w: row %d has sequences of length %d/%d/%d",
				ErrInvalidTable, r.ID, len(r.Dates), len(r.WaterArea), len(r.ValidArea))
		}
	}
	return nil
}

// WriteCSV encodes t as CSV with Header. Sequences are JSON arrays and dates
// are RFC 3339 in UTC.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range t.Rows {
		water, err := json.Marshal(nonNil(r.WaterArea))
		if err != nil {
			return fmt.Errorf("failed to encode water area for %d: %w", r.ID, err)
		}
		valid, err := json.Marshal(nonNil(r.ValidArea))
		if err != nil {
			return fmt.Errorf("failed to encode valid area for %d: %w", r.ID, err)
		}
		dates := make([]string, len(r.Dates))
		for i, d := range r.Dates {
			dates[i] = d.UTC().Format(time.RFC3339)
		}
		encodedDates, err := json.Marshal(dates)
		if err != nil {
			return fmt.Errorf("failed to encode dates for %d: %w", r.ID, err)
		}

		record := []string{strconv.FormatInt(r.ID, 10), string(water), string(valid), string(encodedDates)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes a table body written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	if strings.Join(records[0], ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %v", records[0])
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		id, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad ID %q: %w", rec[0], err)
		}
		row := Row{ID: id}
		if err := json.Unmarshal([]byte(rec[1]), &row.WaterArea); err != nil {
			return nil, fmt.Errorf("bad water_area for %d: %w", id, err)
		}
		if err := json.Unmarshal([]byte(rec[2]), &row.ValidArea); err != nil {
			return nil, fmt.Errorf("bad stad_area for %d: %w", id, err)
		}
		var dates []string
		if err := json.Unmarshal([]byte(rec[3]), &dates); err != nil {
			return nil, fmt.Errorf("bad date for %d: %w", id, err)
		}
		row.Dates = make([]time.Time, len(dates))
		for i, d := range dates {
			if row.Dates[i], err = time.Parse(time.RFC3339, d); err != nil {
				return nil, fmt.Errorf("bad date for %d: %w", id, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
