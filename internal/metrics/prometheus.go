// Package metrics exposes backend state as native Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// MemoryStats is the part of the memory backend the collectors observe.
type MemoryStats interface {
	Len() int
	Evictions() int64
}

// RegisterMemoryStore registers gauges for the number of live entries and
// the capacity evictions of a memory backend.
func RegisterMemoryStore(reg prometheus.Registerer, stats MemoryStats) error {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register memory store metrics.")
		return nil
	}

	entries := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "oidcstore_memory_entries",
		Help: "Current number of keys held by the memory backend, indexes included.",
	}, func() float64 { return float64(stats.Len()) })

	evictions := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "oidcstore_memory_evictions_total",
		Help: "Total number of entries evicted because the capacity was reached.",
	}, func() float64 { return float64(stats.Evictions()) })

	for _, c := range []prometheus.Collector{entries, evictions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	log.Debug().Msg("Memory store metrics registered.")
	return nil
}
