package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/models"
)

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err, "tzdata must be available")
	return loc
}

// The overnight window under test runs 07:00 to 03:00 the next day,
// Monday through Friday. 2024-01-08 is a Monday.
func Test_OvernightSessionMembership(t *testing.T) {
	loc := jakarta(t)
	window := NewSessionWindow(7, 3, loc)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"wednesday 02:00 belongs to tuesday session", time.Date(2024, 1, 10, 2, 0, 0, 0, loc), true},
		{"wednesday 04:00 is in the daily gap", time.Date(2024, 1, 10, 4, 0, 0, 0, loc), false},
		{"wednesday 07:00 opens the session", time.Date(2024, 1, 10, 7, 0, 0, 0, loc), true},
		{"wednesday midday", time.Date(2024, 1, 10, 12, 0, 0, 0, loc), true},
		{"wednesday 23:59 still inside", time.Date(2024, 1, 10, 23, 59, 0, 0, loc), true},
		{"saturday 01:00 spills over from friday", time.Date(2024, 1, 13, 1, 0, 0, 0, loc), true},
		{"saturday midday is closed", time.Date(2024, 1, 13, 12, 0, 0, 0, loc), false},
		{"monday 02:00 has no friday session behind it", time.Date(2024, 1, 8, 2, 0, 0, 0, loc), false},
		{"sunday evening is closed", time.Date(2024, 1, 7, 20, 0, 0, 0, loc), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, window.InSession(tc.at))
		})
	}
}

func Test_OvernightSessionStartFor(t *testing.T) {
	loc := jakarta(t)
	window := NewSessionWindow(7, 3, loc)

	start, ok := window.SessionStartFor(time.Date(2024, 1, 10, 2, 0, 0, 0, loc))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 9, 7, 0, 0, 0, loc), start, "02:00 belongs to the previous weekday's session")

	start, ok = window.SessionStartFor(time.Date(2024, 1, 10, 12, 0, 0, 0, loc))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 10, 7, 0, 0, 0, loc), start)

	start, ok = window.SessionStartFor(time.Date(2024, 1, 13, 1, 0, 0, 0, loc))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 12, 7, 0, 0, 0, loc), start, "saturday early morning walks back to friday")

	_, ok = window.SessionStartFor(time.Date(2024, 1, 10, 4, 0, 0, 0, loc))
	assert.False(t, ok, "04:00 sits between sessions")
}

func Test_OvernightNextSessionStart(t *testing.T) {
	loc := jakarta(t)
	window := NewSessionWindow(7, 3, loc)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"gap at 04:00 waits for the same day 07:00", time.Date(2024, 1, 10, 4, 0, 0, 0, loc), time.Date(2024, 1, 10, 7, 0, 0, 0, loc)},
		{"inside wednesday session waits for thursday", time.Date(2024, 1, 10, 12, 0, 0, 0, loc), time.Date(2024, 1, 11, 7, 0, 0, 0, loc)},
		{"inside tuesday spillover waits for wednesday", time.Date(2024, 1, 10, 2, 0, 0, 0, loc), time.Date(2024, 1, 10, 7, 0, 0, 0, loc)},
		{"friday session rolls over the weekend", time.Date(2024, 1, 12, 12, 0, 0, 0, loc), time.Date(2024, 1, 15, 7, 0, 0, 0, loc)},
		{"saturday spillover rolls to monday", time.Date(2024, 1, 13, 1, 0, 0, 0, loc), time.Date(2024, 1, 15, 7, 0, 0, 0, loc)},
		{"saturday afternoon rolls to monday", time.Date(2024, 1, 13, 15, 0, 0, 0, loc), time.Date(2024, 1, 15, 7, 0, 0, 0, loc)},
		{"monday pre-open waits for monday 07:00", time.Date(2024, 1, 8, 2, 0, 0, 0, loc), time.Date(2024, 1, 8, 7, 0, 0, 0, loc)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, window.NextSessionStart(tc.at))
		})
	}
}

func Test_SameDaySessionWindow(t *testing.T) {
	window := NewSessionWindow(9, 17, time.UTC)

	assert.False(t, window.InSession(time.Date(2024, 1, 10, 8, 59, 0, 0, time.UTC)))
	assert.True(t, window.InSession(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)))
	assert.True(t, window.InSession(time.Date(2024, 1, 10, 16, 59, 0, 0, time.UTC)))
	assert.False(t, window.InSession(time.Date(2024, 1, 10, 17, 0, 0, 0, time.UTC)), "end hour is exclusive")
	assert.False(t, window.InSession(time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)), "saturday")

	start, ok := window.SessionStartFor(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), start)

	assert.Equal(t,
		time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		window.NextSessionStart(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t,
		time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC),
		window.NextSessionStart(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t,
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		window.NextSessionStart(time.Date(2024, 1, 12, 18, 0, 0, 0, time.UTC)), "friday evening rolls to monday")
}

func Test_NilLocationDefaultsToUTC(t *testing.T) {
	window := NewSessionWindow(9, 17, nil)
	assert.Equal(t, time.UTC, window.Location)
}

func Test_NextAlignedClose(t *testing.T) {
	tests := []struct {
		name      string
		timeframe models.Timeframe
		at        time.Time
		want      time.Time
	}{
		{
			"mid-bar rounds up to the next boundary",
			models.TimeframeM5,
			time.Date(2024, 1, 10, 12, 3, 21, 0, time.UTC),
			time.Date(2024, 1, 10, 12, 5, 0, 0, time.UTC),
		},
		{
			"exact boundary maps to the following one",
			models.TimeframeM5,
			time.Date(2024, 1, 10, 12, 5, 0, 0, time.UTC),
			time.Date(2024, 1, 10, 12, 10, 0, 0, time.UTC),
		},
		{
			"sub-second fraction is dropped before aligning",
			models.TimeframeM5,
			time.Date(2024, 1, 10, 12, 4, 59, 700_000_000, time.UTC),
			time.Date(2024, 1, 10, 12, 5, 0, 0, time.UTC),
		},
		{
			"midnight maps to the first hourly close",
			models.TimeframeH1,
			time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC),
		},
		{
			"hourly close crosses into the next hour",
			models.TimeframeH1,
			time.Date(2024, 1, 10, 22, 30, 0, 0, time.UTC),
			time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextAlignedClose(tc.at, tc.timeframe))
		})
	}
}
