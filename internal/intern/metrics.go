package intern

import "github.com/prometheus/client_golang/prometheus"

func poolCollectors(name string, p *Pool) []prometheus.Collector {
	labels := prometheus.Labels{"pool": name}
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "log_archiver_intern_hits_total",
			Help:        "Intern pool cache hits",
			ConstLabels: labels,
		}, func() float64 { h, _ := p.Stats(); return float64(h) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "log_archiver_intern_misses_total",
			Help:        "Intern pool cache misses",
			ConstLabels: labels,
		}, func() float64 { _, m := p.Stats(); return float64(m) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "log_archiver_intern_pool_size",
			Help:        "Number of interned strings in pool",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Size()) }),
	}
}

func init() {
	prometheus.MustRegister(poolCollectors("field_names", FieldNames)...)
	prometheus.MustRegister(poolCollectors("tags", Tags)...)
}
