package repost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowAllows(t *testing.T) {
	at := func(weekday time.Weekday, hour, minute int) time.Time {
		// 2024-03-03 is a Sunday.
		return time.Date(2024, 3, 3+int(weekday), hour, minute, 0, 0, time.UTC)
	}
	sunday := time.Sunday

	tests := []struct {
		name   string
		window Window
		now    time.Time
		want   bool
	}{
		{"disabled", Window{}, at(time.Monday, 12, 0), true},
		{"inside day window", Window{Enabled: true, Start: 2 * time.Hour, End: 6 * time.Hour}, at(time.Monday, 4, 0), true},
		{"on end bound", Window{Enabled: true, Start: 2 * time.Hour, End: 6 * time.Hour}, at(time.Monday, 6, 0), true},
		{"outside day window", Window{Enabled: true, Start: 2 * time.Hour, End: 6 * time.Hour}, at(time.Monday, 7, 0), false},
		{"wrapped before midnight", Window{Enabled: true, Start: 22 * time.Hour, End: 4 * time.Hour}, at(time.Monday, 23, 30), true},
		{"wrapped after midnight", Window{Enabled: true, Start: 22 * time.Hour, End: 4 * time.Hour}, at(time.Tuesday, 3, 0), true},
		{"wrapped outside", Window{Enabled: true, Start: 22 * time.Hour, End: 4 * time.Hour}, at(time.Tuesday, 12, 0), false},
		{"exempt weekday", Window{Enabled: true, Start: 2 * time.Hour, End: 6 * time.Hour, ExemptWeekday: &sunday}, at(time.Sunday, 12, 0), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.window.Allows(tc.now))
		})
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow(true, "22:30", "04:00", "sunday")
	require.NoError(t, err)
	require.Equal(t, 22*time.Hour+30*time.Minute, w.Start)
	require.Equal(t, 4*time.Hour, w.End)
	require.NotNil(t, w.ExemptWeekday)
	require.Equal(t, time.Sunday, *w.ExemptWeekday)

	_, err = ParseWindow(true, "25:00", "04:00", "")
	require.Error(t, err)
	_, err = ParseWindow(true, "01:00", "04:00", "Funday")
	require.Error(t, err)
}
