package intern

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPoolMetricsRegistered(t *testing.T) {
	FieldNames.Intern("message")
	Tags.Intern("checkout")

	want := map[string]dto.MetricType{
		"log_archiver_intern_hits_total":   dto.MetricType_COUNTER,
		"log_archiver_intern_misses_total": dto.MetricType_COUNTER,
		"log_archiver_intern_pool_size":    dto.MetricType_GAUGE,
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	gathered := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		gathered[mf.GetName()] = mf
	}

	for name, wantType := range want {
		mf, ok := gathered[name]
		if !ok {
			t.Errorf("metric %q not registered", name)
			continue
		}
		if mf.GetType() != wantType {
			t.Errorf("metric %q: type %v, want %v", name, mf.GetType(), wantType)
		}
		pools := map[string]bool{}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "pool" {
					pools[l.GetValue()] = true
				}
			}
		}
		if !pools["field_names"] || !pools["tags"] {
			t.Errorf("metric %q: pools = %v, want field_names and tags", name, pools)
		}
	}
}

func TestPoolSizeGaugeTracksPool(t *testing.T) {
	p := NewPool(10)
	p.Intern("a")
	p.Intern("b")

	collectors := poolCollectors("test", p)
	gauge, ok := collectors[len(collectors)-1].(prometheus.Metric)
	if !ok {
		t.Fatal("pool_size collector is not a metric")
	}
	var m dto.Metric
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 2 {
		t.Errorf("pool_size = %v, want 2", got)
	}
}
