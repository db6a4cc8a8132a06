package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestStaticBookedFiltersWindow(t *testing.T) {
	cal := NewStatic(
		Range{From: at(14, 0), To: at(15, 0)},
		Range{From: at(9, 0), To: at(10, 0)},
		Range{From: at(12, 0), To: at(12, 0)},
	)
	got, err := cal.Booked(context.Background(), at(9, 30), at(14, 0))
	require.NoError(t, err)
	require.Equal(t, []Range{{From: at(9, 0), To: at(10, 0)}}, got)
}

func TestOverlapMergesAndClips(t *testing.T) {
	ranges := []Range{
		{From: at(10, 0), To: at(10, 30)},
		{From: at(10, 15), To: at(10, 45)},
		{From: at(10, 50), To: at(12, 0)},
	}
	require.Equal(t, 55*time.Minute, Overlap(ranges, at(10, 0), at(11, 0)))
	require.Equal(t, time.Duration(0), Overlap(ranges, at(8, 0), at(9, 0)))
}
