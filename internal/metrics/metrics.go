// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nwanne"

// Metrics holds the bot's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Messages     *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
	CacheWrites  *prometheus.CounterVec
	Sends        *prometheus.CounterVec
	AutoPostRuns *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by platform and outcome.",
		}, []string{"platform", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_errors_total",
			Help:      "Response cache writes that failed, by namespace.",
		}, []string{"namespace"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound platform deliveries by platform and status.",
		}, []string{"platform", "status"}),
		AutoPostRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopost_runs_total",
			Help:      "Auto-poster runs by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Messages, m.CacheLookups, m.CacheWrites, m.Sends, m.AutoPostRuns)
	}
	return m
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMessage(platform, outcome string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(ns string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(ns, result).Inc()
}

func (m *Metrics) ObserveCacheWriteError(ns string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(ns).Inc()
}

func (m *Metrics) ObserveSend(platform string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Sends.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) ObserveAutoPost(status string) {
	if m == nil {
		return
	}
	m.AutoPostRuns.WithLabelValues(status).Inc()
}
