package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:20:30Z", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2024-03-01T10:20:30.123Z", time.Date(2024, 3, 1, 10, 20, 30, 123000000, time.UTC)},
		{"2024-03-01T15:20:30+05:00", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISO(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseISO("yesterday")
	assert.Error(t, err)

	p, err := ParseISOPtr("")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestDayArithmetic(t *testing.T) {
	mon := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	tue := time.Date(2024, 1, 2, 0, 10, 0, 0, time.UTC)
	thu := time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsConsecutiveDay(mon, tue))
	assert.False(t, IsConsecutiveDay(mon, thu))
	assert.False(t, IsSameDay(mon, tue))
	assert.Equal(t, 3, DaysBetween(mon, thu))
	assert.Equal(t, 3, DaysBetween(thu, mon))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	c.Advance(2 * time.Hour)

	assert.Equal(t, start.Add(2*time.Hour), c.Now())
	assert.Equal(t, "2 h ago", FormatRelative(start, c.Now()))
	assert.Equal(t, "in 2 h", FormatRelative(c.Now(), start))
}
