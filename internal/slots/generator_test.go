package slots

import (
	"testing"

	"studiobook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iv(start, end string) Interval {
	return Interval{Start: models.MustTimeOfDay(start), End: models.MustTimeOfDay(end)}
}

func starts(intervals []Interval) []string {
	out := make([]string, len(intervals))
	for i, s := range intervals {
		out[i] = s.Start.String()
	}
	return out
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		open     string
		close    string
		duration int
		want     []string
	}{
		{name: "hourly day", open: "09:00", close: "17:00", duration: 60,
			want: []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00"}},
		{name: "trailing remainder dropped", open: "09:00", close: "10:45", duration: 30,
			want: []string{"09:00", "09:30", "10:00"}},
		{name: "exact single slot", open: "10:00", close: "11:30", duration: 90, want: []string{"10:00"}},
		{name: "duration longer than day", open: "10:00", close: "11:00", duration: 120, want: []string{}},
		{name: "open equals close", open: "10:00", close: "10:00", duration: 30, want: []string{}},
		{name: "open after close", open: "12:00", close: "10:00", duration: 30, want: []string{}},
		{name: "zero duration", open: "09:00", close: "17:00", duration: 0, want: []string{}},
		{name: "negative duration", open: "09:00", close: "17:00", duration: -15, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(models.MustTimeOfDay(tt.open), models.MustTimeOfDay(tt.close), tt.duration)
			assert.Equal(t, tt.want, starts(got))
		})
	}
}

func TestGenerate_Properties(t *testing.T) {
	cases := []struct {
		open, close string
		duration    int
	}{
		{"09:00", "17:00", 60},
		{"08:30", "19:10", 45},
		{"00:00", "24:00", 25},
		{"10:00", "10:59", 20},
	}

	for _, c := range cases {
		open := models.MustTimeOfDay(c.open)
		closeAt := models.MustTimeOfDay(c.close)
		got := Generate(open, closeAt, c.duration)

		require.NotEmpty(t, got)
		assert.Equal(t, open, got[0].Start, "first slot starts at open")
		for i, s := range got {
			assert.Equal(t, c.duration, s.Start.Minutes(s.End), "slot length")
			assert.LessOrEqual(t, int(s.End), int(closeAt), "slot never passes close")
			if i > 0 {
				assert.Equal(t, got[i-1].End, s.Start, "slots are contiguous")
			}
		}
		last := got[len(got)-1]
		assert.Greater(t, int(last.End.AddMinutes(c.duration)), int(closeAt), "no further slot would fit")
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", iv("10:00", "11:00"), iv("10:00", "11:00"), true},
		{"partial", iv("10:00", "11:00"), iv("10:30", "11:30"), true},
		{"contained", iv("10:00", "12:00"), iv("10:30", "11:00"), true},
		{"touching end", iv("10:00", "11:00"), iv("11:00", "12:00"), false},
		{"touching start", iv("11:00", "12:00"), iv("10:00", "11:00"), false},
		{"disjoint", iv("08:00", "09:00"), iv("15:00", "16:00"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
			assert.Equal(t, Overlaps(tt.a, tt.b), Overlaps(tt.b, tt.a), "overlap is symmetric")
		})
	}

	t.Run("reflexive on non-empty", func(t *testing.T) {
		for _, x := range []Interval{iv("00:00", "00:01"), iv("09:00", "17:00")} {
			assert.True(t, Overlaps(x, x))
		}
	})
}

func TestFilter(t *testing.T) {
	candidates := Generate(models.MustTimeOfDay("09:00"), models.MustTimeOfDay("17:00"), 60)

	t.Run("booking and global block", func(t *testing.T) {
		booked := []Interval{iv("10:00", "11:00")}
		blocked := []Interval{iv("13:00", "14:30")}

		got := Filter(candidates, booked, blocked)
		assert.Equal(t, []string{"09:00", "11:00", "12:00", "15:00", "16:00"}, starts(got))
	})

	t.Run("union of conflicts", func(t *testing.T) {
		got := Filter(candidates, []Interval{iv("09:30", "09:45")}, []Interval{iv("09:00", "09:15")})
		assert.NotContains(t, starts(got), "09:00")
		assert.Len(t, got, 7)
	})

	t.Run("nothing to filter", func(t *testing.T) {
		assert.Equal(t, candidates, Filter(candidates, nil, nil))
	})

	t.Run("no survivor overlaps any input", func(t *testing.T) {
		booked := []Interval{iv("09:10", "09:20"), iv("12:59", "13:01")}
		blocked := []Interval{iv("15:30", "23:00")}
		for _, s := range Filter(candidates, booked, blocked) {
			for _, x := range append(booked, blocked...) {
				assert.False(t, Overlaps(s, x))
			}
		}
	})
}

func TestToSlots(t *testing.T) {
	date := models.MustDate("2025-06-10")
	got := ToSlots(date, 3, []Interval{iv("10:00", "11:00")})
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ServiceTypeID)
	assert.Equal(t, "2025-06-10", got[0].Date.String())
	assert.Equal(t, "11:00", got[0].EndTime.String())
}
