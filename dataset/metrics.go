package dataset

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type scanMetrics struct {
	batches         prometheus.Counter
	rows            prometheus.Counter
	decodeCalls     prometheus.Counter
	fragmentsOpened prometheus.Counter
	errors          *prometheus.CounterVec
}

// newScanMetrics registers the scan metrics on reg. Datasets sharing a
// registerer share the counters.
func newScanMetrics(reg prometheus.Registerer) *scanMetrics {
	m := &scanMetrics{
		batches: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_batches_total",
			Help: "Number of record batches returned by dataset scanners.",
		})),
		rows: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_rows_total",
			Help: "Number of rows returned by dataset scanners.",
		})),
		decodeCalls: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_decode_calls_total",
			Help: "Number of decode calls issued against fragment readers.",
		})),
		fragmentsOpened: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_fragments_opened_total",
			Help: "Number of fragments opened by dataset scanners.",
		})),
		errors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_scan_errors_total",
			Help: "Number of failed scans by error kind.",
		}, []string{"kind"})),
	}
	for _, kind := range []ErrorKind{CorruptData, IOFailure, SchemaMismatch} {
		m.errors.WithLabelValues(kind.String())
	}
	return m
}

// register adds c to reg and returns the collector already registered under
// the same descriptor, if any.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var registered prometheus.AlreadyRegisteredError
		if errors.As(err, &registered) {
			if existing, ok := registered.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
