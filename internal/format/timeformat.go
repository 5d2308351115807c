package format

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lestrrat-go/strftime"
)

// TimeFormatter renders event times with a strftime pattern in UTC or local time.
// With an empty pattern it renders decimal epoch seconds.
type TimeFormatter struct {
	pattern string
	f       *strftime.Strftime
	loc     *time.Location
}

// NewTimeFormatter compiles pattern. When localtime is set, times are shown
// in loc (time.Local if loc is nil); otherwise in UTC.
func NewTimeFormatter(pattern string, localtime bool, loc *time.Location) (*TimeFormatter, error) {
	tf := &TimeFormatter{pattern: pattern, loc: time.UTC}
	if localtime {
		tf.loc = loc
		if tf.loc == nil {
			tf.loc = time.Local
		}
	}
	if pattern == "" {
		return tf, nil
	}
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid time format %q: %w", pattern, err)
	}
	tf.f = f
	return tf, nil
}

// Epoch reports whether the formatter falls back to epoch seconds.
func (tf *TimeFormatter) Epoch() bool { return tf.f == nil }

// Format renders t.
func (tf *TimeFormatter) Format(t time.Time) string {
	if tf.f == nil {
		return strconv.FormatInt(t.Unix(), 10)
	}
	return tf.f.FormatString(t.In(tf.loc))
}

// AppendFormat appends the rendered time to dst.
func (tf *TimeFormatter) AppendFormat(dst []byte, t time.Time) []byte {
	if tf.f == nil {
		return strconv.AppendInt(dst, t.Unix(), 10)
	}
	return append(dst, tf.f.FormatString(t.In(tf.loc))...)
}
