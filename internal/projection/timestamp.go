package projection

import (
	"strings"
	"time"
)

const clockLayout = "3:04 PM"

// FormatTimestamp renders a point in time relative to now:
//
//	same local calendar date            -> "Today 3:04 PM"
//	previous local calendar date        -> "Yesterday 3:04 PM"
//	anything older                      -> "JANUARY 2 2006 3:04 PM"
//
// Date comparison uses local calendar-date equality, not elapsed duration,
// so one minute past midnight is "Today" even when now is half past.
func FormatTimestamp(ts, now time.Time) string {
	local := ts.In(now.Location())

	if sameDate(local, now) {
		return "Today " + local.Format(clockLayout)
	}
	if sameDate(local, now.AddDate(0, 0, -1)) {
		return "Yesterday " + local.Format(clockLayout)
	}
	return strings.ToUpper(local.Format("January 2 2006 " + clockLayout))
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
