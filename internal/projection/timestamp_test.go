package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp_Today(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 30, 0, 0, time.UTC)
	ts := time.Date(2024, 6, 10, 15, 4, 0, 0, time.UTC)
	require.Equal(t, "Today 3:04 PM", FormatTimestamp(ts, now))
}

func TestFormatTimestamp_MinutesAlwaysTwoDigits(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 30, 0, 0, time.UTC)
	ts := time.Date(2024, 6, 10, 9, 5, 0, 0, time.UTC)
	require.Equal(t, "Today 9:05 AM", FormatTimestamp(ts, now))
}

func TestFormatTimestamp_CalendarDateNotElapsedTime(t *testing.T) {
	// Reference "now" is half past midnight. One minute past midnight is
	// Today; 23:59 the evening before is Yesterday, despite being under an
	// hour apart.
	now := time.Date(2024, 6, 11, 0, 30, 0, 0, time.UTC)

	justPastMidnight := time.Date(2024, 6, 11, 0, 1, 0, 0, time.UTC)
	require.Equal(t, "Today 12:01 AM", FormatTimestamp(justPastMidnight, now))

	lateLastNight := time.Date(2024, 6, 10, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "Yesterday 11:59 PM", FormatTimestamp(lateLastNight, now))
}

func TestFormatTimestamp_OlderDatesUpperCasedWithoutSeparators(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ts := time.Date(2023, 1, 15, 15, 4, 0, 0, time.UTC)

	got := FormatTimestamp(ts, now)
	require.Equal(t, "JANUARY 15 2023 3:04 PM", got)
	require.NotContains(t, got, ",")
}

func TestFormatTimestamp_ComparesInNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	now := time.Date(2024, 6, 11, 1, 0, 0, 0, loc)

	// 21:00 UTC on the 10th is 02:00 on the 11th in now's zone: Today.
	ts := time.Date(2024, 6, 10, 21, 0, 0, 0, time.UTC)
	require.Equal(t, "Today 2:00 AM", FormatTimestamp(ts, now))
}
