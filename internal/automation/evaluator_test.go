package automation

import (
	"testing"
	"time"

	"buildingops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 1, 15, hh, mm, ss, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 22 * * *", "*/5 * * * *", "30 0 22 * * *", "0 8 * * 1-5", " 0 22 * * * "} {
		assert.NoError(t, Validate(ok), ok)
	}
	for _, bad := range []string{"not-a-cron", "", "* * * *", "0 0 0 1 1 * 2026", "61 * * * *", "@daily", "@every 1m"} {
		err := Validate(bad)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad)
		assert.ErrorIs(t, err, models.ErrValidation, bad)
	}
}

func TestIsDueWithoutLastRun(t *testing.T) {
	// the occurrence at 22:00 is within the one minute look-back
	due, err := IsDue("0 22 * * *", nil, at(22, 0, 20))
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue("0 22 * * *", nil, at(22, 0, 59))
	require.NoError(t, err)
	assert.True(t, due)

	// stale occurrences are not replayed at startup
	due, err = IsDue("0 22 * * *", nil, at(22, 5, 0))
	require.NoError(t, err)
	assert.False(t, due)

	due, err = IsDue("0 22 * * *", nil, at(21, 59, 30))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueRelativeToLastRun(t *testing.T) {
	last := at(21, 0, 0)

	// the poll can land well after the exact minute and still fire
	due, err := IsDue("0 22 * * *", &last, at(22, 0, 45))
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue("0 22 * * *", &last, at(22, 17, 0))
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue("0 22 * * *", &last, at(21, 59, 59))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueNotRefiredAfterRun(t *testing.T) {
	ranAt := at(22, 0, 10)
	for _, now := range []time.Time{at(22, 0, 40), at(22, 30, 0), at(23, 59, 0)} {
		due, err := IsDue("0 22 * * *", &ranAt, now)
		require.NoError(t, err)
		assert.False(t, due, now)
	}
}

func TestIsDueMatchesNextOccurrence(t *testing.T) {
	exprs := []string{"*/5 * * * *", "0 22 * * *", "15 */2 * * *", "*/20 * * * * *", "0 0 1 * *"}
	start := at(0, 0, 0)
	for _, expr := range exprs {
		for i := 0; i < 200; i++ {
			last := start.Add(time.Duration(i*37) * time.Minute)
			now := last.Add(time.Duration(i%13) * time.Minute).Add(time.Duration(i%7) * time.Second)
			next, err := NextRun(expr, last)
			require.NoError(t, err)

			due, err := IsDue(expr, &last, now)
			require.NoError(t, err)
			assert.Equal(t, !next.After(now), due, "%s last=%s now=%s", expr, last, now)
		}
	}
}

func TestIsDueUsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, 1, 15, 22, 0, 30, 0, loc)
	last := time.Date(2026, 1, 14, 22, 0, 0, 0, loc).UTC()

	due, err := IsDue("0 22 * * *", &last, now)
	require.NoError(t, err)
	assert.True(t, due)

	halfHourAgo := now.Add(-30 * time.Minute).UTC()
	due, err = IsDue("0 22 * * *", &halfHourAgo, now)
	require.NoError(t, err)
	assert.True(t, due)

	// the same instant is 20:00 UTC, two hours before a UTC 22:00 run
	due, err = IsDue("0 22 * * *", &halfHourAgo, now.UTC())
	require.NoError(t, err)
	assert.False(t, due)

	due, err = IsDue("0 22 * * *", ptr(now.Add(-30*time.Second)), now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueInvalidExpression(t *testing.T) {
	_, err := IsDue("not-a-cron", nil, at(1, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
