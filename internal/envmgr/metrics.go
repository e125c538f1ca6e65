// SPDX-License-Identifier: MPL-2.0

package envmgr

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "envscout"

// Metrics are the discovery instruments, registered on a private registry so
// several managers (tests) never collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	LocatorDuration   *prometheus.HistogramVec
	LocatorResults    *prometheus.GaugeVec
	EnvironmentsFound prometheus.Gauge
	Runs              prometheus.Counter
	DroppedResults    prometheus.Counter
	CacheWrites       prometheus.Counter
}

// NewMetrics creates and registers the discovery metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		LocatorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "locator_duration_seconds",
				Help:      "Time taken by one locator run.",
				Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"locator"},
		),
		LocatorResults: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "locator_results",
				Help:      "Executables reported by the last run of each locator.",
			},
			[]string{"locator"},
		),
		EnvironmentsFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "environments_found",
			Help:      "Distinct environments in the last settled snapshot.",
		}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discovery_runs_total",
			Help:      "Discovery runs started.",
		}),
		DroppedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "locator_results_dropped_total",
			Help:      "Locator results discarded because their run was invalidated.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_writes_total",
			Help:      "Writes of the environment cache file.",
		}),
	}
	m.Registry.MustRegister(
		m.LocatorDuration,
		m.LocatorResults,
		m.EnvironmentsFound,
		m.Runs,
		m.DroppedResults,
		m.CacheWrites,
	)
	return m
}
