// Package timegrid builds the uniform temporal grid that every feature's time
// series is sampled on.
package timegrid

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is a calendar unit used to express the step length.
type Unit string

// Supported step units.
const (
	Hour  Unit = "hour"
	Day   Unit = "day"
	Week  Unit = "week"
	Month Unit = "month"
	Year  Unit = "year"
)

// ErrInvalidStep is returned for a non-positive step or an unknown unit.
var ErrInvalidStep = errors.New("invalid grid step")

// ParseUnit parses a unit name, accepting plural forms ("days").
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch u {
	case Hour, Day, Week, Month, Year:
		return u, nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidStep, s)
}

// Advance moves t forward by n units using calendar arithmetic.
func Advance(t time.Time, n int, unit Unit) (time.Time, error) {
	switch unit {
	case Hour:
		return t.Add(time.Duration(n) * time.Hour), nil
	case Day:
		return t.AddDate(0, 0, n), nil
	case Week:
		return t.AddDate(0, 0, 7*n), nil
	case Month:
		return t.AddDate(0, n, 0), nil
	case Year:
		return t.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidStep, unit)
}

// Grid is an ordered sequence of step starts in epoch milliseconds with a
// constant spacing. It is built once per run and only read afterwards.
type Grid struct {
	steps    []int64
	interval int64
}

// Build returns the steps [start, start+Δ, start+2Δ, ...] that do not pass
// end, where Δ = advance(start, step, unit) - start. Δ is computed once so
// month-length variation never shifts later steps.
func Build(start, end time.Time, step int, unit Unit) (*Grid, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step must be positive, got %d", ErrInvalidStep, step)
	}
	second, err := Advance(start, step, unit)
	if err != nil {
		return nil, err
	}

	interval := second.UnixMilli() - start.UnixMilli()
	if interval <= 0 {
		return nil, fmt.Errorf("%w: step of %d %s has no length", ErrInvalidStep, step, unit)
	}

	g := &Grid{interval: interval}
	last := end.UnixMilli()
	for t := start.UnixMilli(); t <= last; t += interval {
		g.steps = append(g.steps, t)
	}
	return g, nil
}

// Len returns the number of steps.
func (g *Grid) Len() int {
	return len(g.steps)
}

// Interval returns Δ in milliseconds.
func (g *Grid) Interval() int64 {
	return g.interval
}

// Step returns the i-th step start in milliseconds.
func (g *Grid) Step(i int) int64 {
	return g.steps[i]
}

// Steps returns a copy of all step starts.
func (g *Grid) Steps() []int64 {
	out := make([]int64, len(g.steps))
	copy(out, g.steps)
	return out
}

// Window returns the half-open window [t_i, t_i+Δ) in UTC.
func (g *Grid) Window(i int) (time.Time, time.Time) {
	start := g.steps[i]
	return time.UnixMilli(start).UTC(), time.UnixMilli(start + g.interval).UTC()
}
