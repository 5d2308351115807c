package receiver

import (
	"encoding/base64"
	"encoding/hex"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/szibis/log-archiver/internal/intern"
	"github.com/szibis/log-archiver/internal/record"
)

// Field names used for OTLP log records.
const (
	FieldMessage        = "message"
	FieldSeverity       = "severity"
	FieldSeverityNumber = "severity_number"
	FieldTraceID        = "trace_id"
	FieldSpanID         = "span_id"
	FieldResource       = "resource"
	FieldScope          = "scope"
)

const serviceNameKey = "service.name"

// LogsToEvents flattens OTLP resource logs into events. The tag is the
// resource's service.name, or defaultTag when absent. Log attributes become
// top-level fields after the fixed ones.
func LogsToEvents(rls []*logspb.ResourceLogs, defaultTag string, now time.Time) []record.Event {
	var events []record.Event
	for _, rl := range rls {
		resAttrs := rl.GetResource().GetAttributes()
		tag := defaultTag
		for _, kv := range resAttrs {
			if kv.GetKey() == serviceNameKey && kv.GetValue().GetStringValue() != "" {
				tag = intern.Tags.Intern(kv.GetValue().GetStringValue())
				break
			}
		}
		var resource *record.Record
		if len(resAttrs) > 0 {
			resource = keyValues(resAttrs)
		}

		for _, sl := range rl.GetScopeLogs() {
			scope := sl.GetScope().GetName()
			for _, lr := range sl.GetLogRecords() {
				events = append(events, record.Event{
					Time:   logTime(lr, now),
					Tag:    tag,
					Record: logRecord(lr, resource, scope),
				})
			}
		}
	}
	return events
}

func logTime(lr *logspb.LogRecord, now time.Time) time.Time {
	if ts := lr.GetTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts)).UTC()
	}
	if ts := lr.GetObservedTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts)).UTC()
	}
	return now
}

func logRecord(lr *logspb.LogRecord, resource *record.Record, scope string) *record.Record {
	fields := []record.Field{{Name: FieldMessage, Value: anyValue(lr.GetBody())}}
	if s := lr.GetSeverityText(); s != "" {
		fields = append(fields, record.Field{Name: FieldSeverity, Value: record.String(s)})
	}
	if n := lr.GetSeverityNumber(); n != logspb.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED {
		fields = append(fields, record.Field{Name: FieldSeverityNumber, Value: record.Int(int64(n))})
	}
	if id := lr.GetTraceId(); len(id) > 0 {
		fields = append(fields, record.Field{Name: FieldTraceID, Value: record.String(hex.EncodeToString(id))})
	}
	if id := lr.GetSpanId(); len(id) > 0 {
		fields = append(fields, record.Field{Name: FieldSpanID, Value: record.String(hex.EncodeToString(id))})
	}
	if scope != "" {
		fields = append(fields, record.Field{Name: FieldScope, Value: record.String(scope)})
	}
	if resource != nil {
		fields = append(fields, record.Field{Name: FieldResource, Value: record.Map(resource)})
	}

	rec := record.New(fields...)
	for _, kv := range lr.GetAttributes() {
		// Fixed fields win over attributes of the same name.
		if _, taken := rec.Get(kv.GetKey()); taken {
			continue
		}
		rec = rec.With(intern.FieldNames.Intern(kv.GetKey()), anyValue(kv.GetValue()))
	}
	return rec
}

func keyValues(kvs []*commonpb.KeyValue) *record.Record {
	fields := make([]record.Field, 0, len(kvs))
	for _, kv := range kvs {
		fields = append(fields, record.Field{Name: intern.FieldNames.Intern(kv.GetKey()), Value: anyValue(kv.GetValue())})
	}
	return record.New(fields...)
}

func anyValue(v *commonpb.AnyValue) record.Value {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return record.String(x.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return record.Bool(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return record.Int(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return record.Float(x.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return record.String(base64.StdEncoding.EncodeToString(x.BytesValue))
	case *commonpb.AnyValue_ArrayValue:
		values := x.ArrayValue.GetValues()
		list := make([]record.Value, 0, len(values))
		for _, item := range values {
			list = append(list, anyValue(item))
		}
		return record.List(list...)
	case *commonpb.AnyValue_KvlistValue:
		return record.Map(keyValues(x.KvlistValue.GetValues()))
	default:
		return record.Null()
	}
}
