// Package metrics holds the pipeline's Prometheus counters. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediaparse"

// Metrics holds pipeline counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Dispatched       *prometheus.CounterVec
	StrategyAttempts *prometheus.CounterVec
	MediaConversions *prometheus.CounterVec
}

// New creates and registers all counters.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Inputs routed to a platform rule",
		}, []string{"platform"}),
		StrategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_attempts_total",
			Help:      "Resolution strategy attempts by outcome",
		}, []string{"platform", "result"}),
		MediaConversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_conversions_total",
			Help:      "Image normalizations by outcome",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.Dispatched, m.StrategyAttempts, m.MediaConversions)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Dispatch counts one routed input.
func (m *Metrics) Dispatch(platform string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(platform).Inc()
}

// Attempt counts one strategy attempt.
func (m *Metrics) Attempt(platform string, ok bool) {
	if m == nil {
		return
	}
	m.StrategyAttempts.WithLabelValues(platform, result(ok)).Inc()
}

// Conversion counts one image normalization.
func (m *Metrics) Conversion(ok bool) {
	if m == nil {
		return
	}
	m.MediaConversions.WithLabelValues(result(ok)).Inc()
}

// Snapshot flattens current counter values into "name{k=v,...}" keys.
func (m *Metrics) Snapshot() map[string]float64 {
	out := map[string]float64{}
	if m == nil {
		return out
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := fam.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = metric.GetCounter().GetValue()
		}
	}
	return out
}
