// Package metrics exposes filter service status as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/filterloop"
)

const namespace = "keen_dnsfilter"

// StatusSource provides the status snapshot metrics are read from.
type StatusSource interface {
	Snapshot() filterloop.Status
}

var (
	descUp = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "up"),
		"Whether the filter loop is running.", nil, nil)
	descQueries = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queries_total"),
		"Queries answered in the current running period, by outcome.", []string{"outcome"}, nil)
	descProcessed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queries_processed_total"),
		"Queries answered in the current running period.", nil, nil)
	descDropped = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "packets_dropped_total"),
		"Packets read from the tunnel that got no reply.", nil, nil)
	descRules = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rules"),
		"Active filter rules, by kind.", []string{"kind"}, nil)
	descStarted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "started_timestamp_seconds"),
		"Start time of the current running period.", nil, nil)
	descRulesUpdated = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rules_updated_timestamp_seconds"),
		"Time of the last rule update.", nil, nil)
)

// Collector reads a fresh status snapshot on every scrape. The counters
// reset when the service restarts.
type Collector struct {
	source StatusSource
}

// NewCollector creates a collector over source.
func NewCollector(source StatusSource) *Collector {
	return &Collector{source: source}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descUp
	ch <- descQueries
	ch <- descProcessed
	ch <- descDropped
	ch <- descRules
	ch <- descStarted
	ch <- descRulesUpdated
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Snapshot()

	up := 0.0
	if s.IsRunning {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(descUp, prometheus.GaugeValue, up)

	ch <- prometheus.MustNewConstMetric(descProcessed, prometheus.CounterValue, float64(s.Processed))
	ch <- prometheus.MustNewConstMetric(descQueries, prometheus.CounterValue, float64(s.Allowed), string(filterloop.OutcomeAllowed))
	ch <- prometheus.MustNewConstMetric(descQueries, prometheus.CounterValue, float64(s.Blocked), string(filterloop.OutcomeBlocked))
	ch <- prometheus.MustNewConstMetric(descQueries, prometheus.CounterValue, float64(s.UpstreamFailures), string(filterloop.OutcomeUpstreamFailed))
	ch <- prometheus.MustNewConstMetric(descDropped, prometheus.CounterValue, float64(s.Dropped))

	ch <- prometheus.MustNewConstMetric(descRules, prometheus.GaugeValue, float64(s.CategoryCount), "category")
	ch <- prometheus.MustNewConstMetric(descRules, prometheus.GaugeValue, float64(s.DomainCount), "block_domain")
	ch <- prometheus.MustNewConstMetric(descRules, prometheus.GaugeValue, float64(s.AllowedCount), "allowed_domain")

	if s.StartedAt != nil {
		ch <- prometheus.MustNewConstMetric(descStarted, prometheus.GaugeValue, float64(s.StartedAt.Unix()))
	}
	if s.LastRuleUpdateAt != nil {
		ch <- prometheus.MustNewConstMetric(descRulesUpdated, prometheus.GaugeValue, float64(s.LastRuleUpdateAt.Unix()))
	}
}

// NewRegistry returns a registry with the status collector plus the Go
// runtime and process collectors.
func NewRegistry(source StatusSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
