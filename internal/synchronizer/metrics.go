package synchronizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultApplied  = "applied"
	resultRejected = "rejected"
)

type metrics struct {
	events    *prometheus.CounterVec
	epoch     *prometheus.GaugeVec
	attesters prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unirep",
				Subsystem: "sync",
				Name:      "events_total",
				Help:      "Ledger events by type and result",
			},
			[]string{"type", "result"},
		),
		epoch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "unirep",
				Subsystem: "sync",
				Name:      "current_epoch",
				Help:      "Current open epoch per attester",
			},
			[]string{"attester"},
		),
		attesters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "unirep",
			Subsystem: "sync",
			Name:      "attesters",
			Help:      "Number of signed-up attesters",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.events, m.epoch, m.attesters} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
