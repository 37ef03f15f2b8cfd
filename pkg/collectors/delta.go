package collectors

import (
	"math"
	"time"
)

// Derived-rate math shared by the time-series collectors. Counters are
// cumulative since boot; a counter that went backwards (wraparound, reboot)
// reads as a zero delta, never negative. Every derived value is validated
// before it is handed to the store: anything non-finite becomes nil and is
// stored as NULL.

// deltaSlack is how much younger than a full collection interval a previous
// sample may be and still count as one interval old.
const deltaSlack = 2 * time.Second

// deltaWindowMet reports whether a previous sample is old enough to derive
// rates from. The previous sample must predate the current one by nearly a
// full collection interval; anything closer is an adjacent read (an
// overlapping tick or a manual re-scan) whose tiny time base would inflate
// the rates.
func deltaWindowMet(age, interval time.Duration) bool {
	if interval > deltaSlack {
		return age > interval-deltaSlack
	}
	return age > 0
}

// counterDelta returns max(0, cur-prev).
func counterDelta(cur, prev int64) int64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// finite returns a pointer to v, or nil when v is NaN or infinite.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ratePerSecond converts a counter delta over an interval into a per-second
// rate. A non-positive interval yields nil: the sample pair is unusable.
func ratePerSecond(delta int64, seconds float64) *float64 {
	if seconds <= 0 {
		return nil
	}
	return finite(round2(float64(delta) / seconds))
}

// megabitsPerSecond converts a bytes-per-second rate to megabits per second,
// rounded to 0.01.
func megabitsPerSecond(bps float64) *float64 {
	return finite(round2(bps * 8 / 1e6))
}

// utilizationPct reports how much of a link's capacity a byte delta consumed
// over the interval, as a percentage rounded to 0.01. Unknown or zero link
// speed yields nil.
func utilizationPct(deltaBytes, speedMbps int64, seconds float64) *float64 {
	if speedMbps <= 0 || seconds <= 0 {
		return nil
	}
	pct := float64(deltaBytes) * 8 / (float64(speedMbps) * 1e6 * seconds) * 100
	return finite(round2(pct))
}

// percentOf returns part/total*100 rounded to 0.01, or nil when total is not
// positive.
func percentOf(part, total float64) *float64 {
	if total <= 0 {
		return nil
	}
	return finite(round2(part / total * 100))
}
