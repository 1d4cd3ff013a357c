package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts classic five-field expressions and six-field ones
// with a leading seconds column. Descriptors such as @daily are rejected.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if n := len(strings.Fields(expr)); n != 5 && n != 6 {
		return nil, fmt.Errorf("%w: %q has %d fields, want 5 or 6", ErrInvalidSchedule, expr, n)
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Validate checks that expr is a usable cron expression
func Validate(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

// NextRun returns the first occurrence of expr strictly after after.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := parseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// IsDue reports whether a rule should fire at now. The next occurrence is
// computed after the last run, or after now minus one minute for a rule that
// never ran, so a rule is not fired for stale occurrences at startup and a
// poll that lands just after the minute does not skip it. Occurrences are
// computed in now's location.
func IsDue(expr string, lastRunAt *time.Time, now time.Time) (bool, error) {
	sched, err := parseSchedule(expr)
	if err != nil {
		return false, err
	}
	base := now.Add(-time.Minute)
	if lastRunAt != nil {
		base = lastRunAt.In(now.Location())
	}
	next := sched.Next(base)
	return !next.IsZero() && !next.After(now), nil
}
