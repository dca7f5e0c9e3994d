// Package schedule decides whether a reminder is due "now". All calendar
// arithmetic happens in one fixed civil timezone (WIB, UTC+7 by default)
// regardless of the host machine's locale, and the due window is a single
// configured value consumed by every call site.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Matcher evaluates scheduled times against a fixed civil calendar.
// Matcher is pure: it performs no I/O and holds no mutable state.
type Matcher struct {
	loc    *time.Location
	window int // minutes after the scheduled minute a reminder stays due
}

// NewMatcher builds a Matcher for a fixed UTC offset (hours) and due window
// (minutes).
func NewMatcher(tzOffsetHours, windowMinutes int) Matcher {
	name := fmt.Sprintf("UTC%+d", tzOffsetHours)
	if tzOffsetHours == 7 {
		name = "WIB"
	}
	return Matcher{
		loc:    time.FixedZone(name, tzOffsetHours*3600),
		window: windowMinutes,
	}
}

// Location exposes the fixed civil timezone for callers that need to stamp
// or compare civil dates (e.g. the expiry sweep).
func (m Matcher) Location() *time.Location { return m.loc }

// DueNow reports whether a reminder scheduled at "HH:MM" starting on
// startDate is due at instant now:
//
//   - not due unless startDate falls on today's calendar day (in the fixed
//     zone) — the scheduling surface advances startDate per occurrence,
//   - due iff 0 <= nowMinutes - scheduledMinutes <= window on that day.
//
// Malformed scheduled times are never due; the scheduling surface validates
// input, so an unparsable value here means bad data, not a late send.
func (m Matcher) DueNow(scheduledTime string, startDate, now time.Time) bool {
	schedMin, err := ParseMinuteOfDay(scheduledTime)
	if err != nil {
		return false
	}

	local := now.In(m.loc)
	start := startDate.In(m.loc)
	ly, lm, ld := local.Date()
	sy, sm, sd := start.Date()
	if ly != sy || lm != sm || ld != sd {
		return false
	}

	delta := local.Hour()*60 + local.Minute() - schedMin
	return delta >= 0 && delta <= m.window
}

// ParseMinuteOfDay parses "HH:MM" into a minute-of-day in [0, 1439].
func ParseMinuteOfDay(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + min, nil
}

// At returns the absolute instant of scheduledTime on the civil day of the
// given date in the fixed zone. Dispatch uses it to derive the occurrence
// component of deterministic job identities.
func (m Matcher) At(scheduledTime string, day time.Time) (time.Time, error) {
	minOfDay, err := ParseMinuteOfDay(scheduledTime)
	if err != nil {
		return time.Time{}, err
	}
	local := day.In(m.loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, minOfDay/60, minOfDay%60, 0, 0, m.loc), nil
}
