// Package availability answers which time ranges are already booked. The date
// picker consults a Checker to mark slots as taken.
package availability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Range is a booked half-open interval [From, To).
type Range struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Checker returns the booked ranges intersecting [from, to).
type Checker interface {
	Booked(ctx context.Context, from, to time.Time) ([]Range, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, from, to time.Time) ([]Range, error)

// Booked implements Checker.
func (f CheckerFunc) Booked(ctx context.Context, from, to time.Time) ([]Range, error) {
	return f(ctx, from, to)
}

// Static is an in-memory calendar.
type Static struct {
	mu     sync.RWMutex
	ranges []Range
}

// NewStatic returns a calendar holding ranges.
func NewStatic(ranges ...Range) *Static {
	s := &Static{}
	for _, r := range ranges {
		s.Add(r)
	}
	return s
}

// Add books r. Empty ranges are ignored.
func (s *Static) Add(r Range) {
	if !r.To.After(r.From) {
		return
	}
	s.mu.Lock()
	s.ranges = append(s.ranges, r)
	s.mu.Unlock()
}

// Booked implements Checker.
func (s *Static) Booked(_ context.Context, from, to time.Time) ([]Range, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Range
	for _, r := range s.ranges {
		if r.From.Before(to) && r.To.After(from) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From.Before(out[j].From) })
	return out, nil
}

// Overlap returns how much of [from, to) the ranges cover, counting
// overlapping ranges once.
func Overlap(ranges []Range, from, to time.Time) time.Duration {
	clipped := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		start, end := r.From, r.To
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if end.After(start) {
			clipped = append(clipped, Range{From: start, To: end})
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].From.Before(clipped[j].From) })
	var (
		total  time.Duration
		cursor time.Time
	)
	for _, r := range clipped {
		if r.From.Before(cursor) {
			if !r.To.After(cursor) {
				continue
			}
			r.From = cursor
		}
		total += r.To.Sub(r.From)
		cursor = r.To
	}
	return total
}
