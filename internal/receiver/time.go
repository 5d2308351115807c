package receiver

import (
	"math"
	"time"

	"github.com/szibis/log-archiver/internal/record"
)

// Epoch magnitudes above which an integer time is read in the next finer
// unit. 1e11 seconds is in the year 5138.
const (
	maxEpochSeconds = 1e11
	maxEpochMillis  = 1e14
	maxEpochMicros  = 1e17
)

// eventTime reads the event time from rec[key], falling back to def.
// Numeric times are epoch seconds, milliseconds, microseconds or
// nanoseconds, told apart by magnitude.
func eventTime(rec *record.Record, key string, def time.Time) time.Time {
	if key == "" {
		return def
	}
	v, ok := rec.Get(key)
	if !ok {
		return def
	}
	switch v.Kind() {
	case record.KindInt:
		return epochTime(v.IntValue())
	case record.KindFloat:
		f := v.FloatValue()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return def
		}
		if math.Abs(f) >= maxEpochSeconds {
			return epochTime(int64(f))
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case record.KindString:
		if t, err := time.Parse(time.RFC3339Nano, v.Str()); err == nil {
			return t
		}
	}
	return def
}

func epochTime(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < maxEpochSeconds:
		return time.Unix(n, 0).UTC()
	case abs < maxEpochMillis:
		return time.UnixMilli(n).UTC()
	case abs < maxEpochMicros:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}
