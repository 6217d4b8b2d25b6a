package zkproof

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opProve  = "prove"
	opVerify = "verify"

	resultOK      = "ok"
	resultFailed  = "failed"
	resultTimeout = "timeout"
)

type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unirep",
				Subsystem: "proof",
				Name:      "operations_total",
				Help:      "Proof operations by circuit, operation and result",
			},
			[]string{"circuit", "op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "unirep",
				Subsystem: "proof",
				Name:      "duration_seconds",
				Help:      "Duration of proof operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"circuit", "op"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "unirep",
			Subsystem: "proof",
			Name:      "inflight_provers",
			Help:      "Number of proofs currently being generated",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
