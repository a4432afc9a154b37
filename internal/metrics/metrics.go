// Package metrics exposes the resolver's and server port's counters as
// Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/wire"
)

// Collector bundles every metric the resolver publishes. Unlike the
// teacher's package-level vars + init()-time MustRegister, each Collector
// is constructed fresh by New and registered explicitly via Register —
// this avoids a duplicate-registration panic when more than one resolver
// (or a test) constructs its own Collector in the same process.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	Retransmits     prometheus.Counter
	Reissues        prometheus.Counter
	RequestDuration *prometheus.HistogramVec

	NameserversUp   prometheus.Gauge
	NameserversDown prometheus.Gauge

	RequestsInflight prometheus.Gauge
	RequestsWaiting  prometheus.Gauge

	ServerQueriesTotal *prometheus.CounterVec
}

// New constructs an unregistered Collector.
func New() *Collector {
	return &Collector{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evreq_requests_total",
				Help: "Resolve requests completed, by query type and result code.",
			},
			[]string{"type", "code"},
		),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evreq_retransmits_total",
			Help: "Per-request retransmissions due to timeout.",
		}),
		Reissues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evreq_reissues_total",
			Help: "Requests reissued to a different nameserver after a server-attributable error.",
		}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evreq_request_duration_seconds",
				Help:    "Time from submit to delivery for a top-level resolve call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		NameserversUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evreq_nameservers_up",
			Help: "Configured nameservers currently marked UP.",
		}),
		NameserversDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evreq_nameservers_down",
			Help: "Configured nameservers currently marked DOWN.",
		}),
		RequestsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evreq_requests_inflight",
			Help: "Requests currently transmitted and awaiting a reply.",
		}),
		RequestsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evreq_requests_waiting",
			Help: "Requests queued behind inflight capacity.",
		}),
		ServerQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evreq_server_queries_total",
				Help: "Queries accepted on a server port, by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// Register adds every metric in c to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.RequestsTotal,
		c.Retransmits,
		c.Reissues,
		c.RequestDuration,
		c.NameserversUp,
		c.NameserversDown,
		c.RequestsInflight,
		c.RequestsWaiting,
		c.ServerQueriesTotal,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// SamplePoolHealth updates the nameserver up/down gauges; called
// periodically (or after every state transition) by the façade.
func (c *Collector) SamplePoolHealth(up, down int) {
	c.NameserversUp.Set(float64(up))
	c.NameserversDown.Set(float64(down))
}

// SampleQueueDepth updates the inflight/waiting gauges.
func (c *Collector) SampleQueueDepth(inflight, waiting int) {
	c.RequestsInflight.Set(float64(inflight))
	c.RequestsWaiting.Set(float64(waiting))
}

// typeLabel maps a wire query type to the label used on RequestsTotal and
// RequestDuration; unrecognized types (there should be none, given the
// façade only accepts A/PTR/AAAA) fall back to "unknown" rather than
// widening cardinality with raw integers.
func typeLabel(qtype uint16) string {
	switch qtype {
	case wire.TypeA:
		return "A"
	case wire.TypeAAAA:
		return "AAAA"
	case wire.TypePTR:
		return "PTR"
	case wire.TypeCNAME:
		return "CNAME"
	default:
		return "unknown"
	}
}

// RecordRequest counts one completed top-level resolve call and observes
// its total submit-to-delivery duration, by query type and result code.
func (c *Collector) RecordRequest(qtype uint16, code rescode.Code, duration time.Duration) {
	label := typeLabel(qtype)
	c.RequestsTotal.WithLabelValues(label, code.String()).Inc()
	c.RequestDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordRetransmit counts one timeout-driven retransmit of an inflight
// request on its already-assigned server.
func (c *Collector) RecordRetransmit() {
	c.Retransmits.Inc()
}

// RecordReissue counts one successful reissue of a request onto a
// different nameserver after a server-attributable error.
func (c *Collector) RecordReissue() {
	c.Reissues.Inc()
}

// RecordServerQuery counts one query accepted on a server port, by
// outcome ("refused", "format_error", "answered").
func (c *Collector) RecordServerQuery(outcome string) {
	c.ServerQueriesTotal.WithLabelValues(outcome).Inc()
}
