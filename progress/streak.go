// ABOUTME: Streak day math in the fixed reference timezone.
// ABOUTME: "Today" is always computed in Europe/Istanbul, not device locale.
package progress

import (
	"time"
	_ "time/tzdata" // mobile and container hosts often lack a tz database
)

const (
	// dateLayout is the ISO calendar date without a time component.
	dateLayout = "2006-01-02"
	// referenceTZ fixes what "today" means for streak logic.
	referenceTZ = "Europe/Istanbul"
)

var referenceLocation = mustLoadLocation(referenceTZ)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata is linked in, so this only happens on a corrupt build.
		panic("progress: load reference timezone: " + err.Error())
	}
	return loc
}

// isoDate formats t as a calendar date in the reference timezone.
func isoDate(t time.Time) string {
	return t.In(referenceLocation).Format(dateLayout)
}

// dayGap returns the number of calendar days from date (ISO) to today.
// Returns -1 when date is empty or malformed, which callers treat the
// same as "no prior activity".
func dayGap(date string, now time.Time) int {
	if date == "" {
		return -1
	}
	parsed, err := time.ParseInLocation(dateLayout, date, referenceLocation)
	if err != nil {
		return -1
	}
	today, err := time.ParseInLocation(dateLayout, isoDate(now), referenceLocation)
	if err != nil {
		return -1
	}
	return int(today.Sub(parsed).Hours() / 24)
}

// advanceStreak applies the activity rules to a stored streak state:
// same day is a no-op, the day after increments, anything else resets
// to 1.
func advanceStreak(count int, lastDate string, now time.Time) (int, string) {
	today := isoDate(now)
	switch dayGap(lastDate, now) {
	case 0:
		return count, lastDate
	case 1:
		return count + 1, today
	default:
		return 1, today
	}
}

// decayedStreak normalizes a stored streak for reading: a gap of more
// than one day means the streak is broken and reads as 0. The stored
// last date is preserved; decay is observed, not written back.
func decayedStreak(count int, lastDate string, now time.Time) int {
	if count == 0 {
		return 0
	}
	gap := dayGap(lastDate, now)
	if gap < 0 || gap > 1 {
		return 0
	}
	return count
}
