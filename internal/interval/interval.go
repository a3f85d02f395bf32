// Package interval holds the overlap predicates used by the appointment
// allocator and the treatment continuity guard. The two callers use
// different boundary policies on purpose: appointment slots are half-open,
// treatment periods are checked inclusively. Keep them separate.
package interval

import "time"

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) share any instant. Touching endpoints (one range ending
// exactly where the other starts) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverlapsInclusive is the conservative variant used for treatment
// periods: boundaries count as occupied, so a range ending exactly where
// another starts is still a conflict.
func OverlapsInclusive(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// EndOr substitutes fallback for a missing end bound. Open-ended ranges
// pass "now" when the caller wants currently-occupies semantics, or a
// far-future sentinel for ever-occupies.
func EndOr(end *time.Time, fallback time.Time) time.Time {
	if end == nil {
		return fallback
	}
	return *end
}
