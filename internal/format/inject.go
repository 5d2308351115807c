package format

import "github.com/szibis/log-archiver/internal/record"

// InjectConfig controls which side-channel fields are merged into each record.
type InjectConfig struct {
	IncludeTag  bool
	TagKey      string
	IncludeTime bool
	TimeKey     string
}

// Injector adds the event tag and/or time to a copy of the record before it
// is serialized. Existing fields keep their position; new fields go last.
type Injector struct {
	cfg InjectConfig
	tf  *TimeFormatter
}

// NewInjector returns an injector that formats times with tf.
func NewInjector(cfg InjectConfig, tf *TimeFormatter) *Injector {
	if cfg.TagKey == "" {
		cfg.TagKey = "tag"
	}
	if cfg.TimeKey == "" {
		cfg.TimeKey = "time"
	}
	return &Injector{cfg: cfg, tf: tf}
}

// Enabled reports whether the injector changes records at all.
func (in *Injector) Enabled() bool {
	return in != nil && (in.cfg.IncludeTag || in.cfg.IncludeTime)
}

// Apply returns the record to serialize for ev. The event's record is never modified.
func (in *Injector) Apply(ev record.Event) *record.Record {
	rec := ev.Record
	if rec == nil {
		rec = record.New()
	}
	if !in.Enabled() {
		return rec
	}
	if in.cfg.IncludeTag {
		rec = rec.With(in.cfg.TagKey, record.String(ev.Tag))
	}
	if in.cfg.IncludeTime {
		if in.tf == nil || in.tf.Epoch() {
			rec = rec.With(in.cfg.TimeKey, record.Int(ev.Time.Unix()))
		} else {
			rec = rec.With(in.cfg.TimeKey, record.String(in.tf.Format(ev.Time)))
		}
	}
	return rec
}
