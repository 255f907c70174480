package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := Parse(expr)
	require.NoError(t, err)
	return s
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"a * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
	} {
		_, err := Parse(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestMatchesEveryMinute(t *testing.T) {
	s := mustParse(t, "* * * * *")
	assert.True(t, s.Matches(at(2026, time.March, 14, 2, 30)))
	assert.True(t, s.Matches(at(2026, time.December, 31, 23, 59)))
}

func TestMatchesFixedTime(t *testing.T) {
	// Daily at 02:30.
	s := mustParse(t, "30 2 * * *")
	assert.True(t, s.Matches(at(2026, time.March, 14, 2, 30)))
	assert.False(t, s.Matches(at(2026, time.March, 14, 2, 31)))
	assert.False(t, s.Matches(at(2026, time.March, 14, 3, 30)))
}

func TestMatchesSteps(t *testing.T) {
	s := mustParse(t, "*/15 * * * *")
	assert.True(t, s.Matches(at(2026, time.May, 1, 10, 0)))
	assert.True(t, s.Matches(at(2026, time.May, 1, 10, 45)))
	assert.False(t, s.Matches(at(2026, time.May, 1, 10, 20)))

	s = mustParse(t, "10-50/10 * * * *")
	assert.True(t, s.Matches(at(2026, time.May, 1, 10, 30)))
	assert.False(t, s.Matches(at(2026, time.May, 1, 10, 35)))
	assert.False(t, s.Matches(at(2026, time.May, 1, 10, 0)))
}

func TestMatchesListsAndRanges(t *testing.T) {
	// Weekdays at 09:00 and 17:00.
	s := mustParse(t, "0 9,17 * * 1-5")
	assert.True(t, s.Matches(at(2026, time.September, 1, 9, 0)))   // Tuesday
	assert.True(t, s.Matches(at(2026, time.September, 4, 17, 0)))  // Friday
	assert.False(t, s.Matches(at(2026, time.September, 5, 9, 0)))  // Saturday
	assert.False(t, s.Matches(at(2026, time.September, 1, 10, 0))) // off-hour
}

func TestSundayAliases(t *testing.T) {
	sun := at(2026, time.September, 6, 0, 0) // a Sunday
	assert.True(t, mustParse(t, "0 0 * * 0").Matches(sun))
	assert.True(t, mustParse(t, "0 0 * * 7").Matches(sun))
	assert.False(t, mustParse(t, "0 0 * * 1").Matches(sun))
}

func TestDayFieldsEitherOrRule(t *testing.T) {
	// Both day fields restricted: fires on the 15th OR on Mondays.
	s := mustParse(t, "0 0 15 * 1")
	assert.True(t, s.Matches(at(2026, time.September, 15, 0, 0))) // 15th, a Tuesday
	assert.True(t, s.Matches(at(2026, time.September, 7, 0, 0)))  // a Monday
	assert.False(t, s.Matches(at(2026, time.September, 8, 0, 0)))

	// Only day-of-month restricted: day-of-week is a wildcard, both must match.
	s = mustParse(t, "0 0 15 * *")
	assert.True(t, s.Matches(at(2026, time.September, 15, 0, 0)))
	assert.False(t, s.Matches(at(2026, time.September, 7, 0, 0)))
}

func TestShouldRun(t *testing.T) {
	ok, err := ShouldRun("30 2 * * *", at(2026, time.March, 14, 2, 30))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ShouldRun("30 2 * * *", at(2026, time.March, 14, 2, 29))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ShouldRun("bogus", time.Now())
	assert.Error(t, err)
}
