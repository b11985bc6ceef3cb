package timex

import "time"

// ToUnixNano stores t as nanoseconds since the epoch; the zero time is 0.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNano is the inverse of ToUnixNano. Results are in UTC.
func FromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
