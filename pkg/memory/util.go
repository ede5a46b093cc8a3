package memory

import "time"

// daysBetween returns the number of days elapsed from "from" to "to" (both
// ISO-8601 timestamps), clamped to 0 when parsing fails or "to" precedes
// "from". Used only for freshness/decay classification, never for state
// identity, so parse failures degrade to "fresh" rather than erroring.
func daysBetween(from, to string) float64 {
	if from == "" || to == "" {
		return 0
	}
	ft, err1 := time.Parse("2006-01-02T15:04:05.000Z", from)
	tt, err2 := time.Parse("2006-01-02T15:04:05.000Z", to)
	if err1 != nil || err2 != nil {
		return 0
	}
	d := tt.Sub(ft).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
