// Package metrics exports selector and test statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koder-ua/network-ping-test/common"
)

const namespace = "pingload"

// Collector is a selector.Sink and a driver.Recorder backed by its own
// registry.
type Collector struct {
	reg *prometheus.Registry

	waits      prometheus.Counter
	emptyWaits prometheus.Counter
	polls      prometheus.Counter
	ready      prometheus.Histogram

	state      *prometheus.GaugeVec
	tests      *prometheus.CounterVec
	messages   prometheus.Counter
	rate       prometheus.Gauge
	avgLatency prometheus.Gauge
	sockets    prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "selector", Name: "waits_total",
			Help: "Completed selector waits.",
		}),
		emptyWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "selector", Name: "empty_waits_total",
			Help: "Selector waits that timed out with nothing ready.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "selector", Name: "polls_total",
			Help: "Calls into the readiness facility.",
		}),
		ready: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "selector", Name: "ready_sockets",
			Help:    "Ready sockets per non-empty wait.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "Current orchestrator state (1 for the active one).",
		}, []string{"state"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tests_total",
			Help: "Tests run, by outcome.",
		}, []string{"result"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Messages observed over all tests.",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_messages_per_second",
			Help: "Message rate of the last completed test.",
		}),
		avgLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_avg_latency_seconds",
			Help: "Average round-trip latency of the last completed test.",
		}),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_replying_sockets",
			Help: "Sockets that completed at least one reply in the last test.",
		}),
	}
	c.reg.MustRegister(c.waits, c.emptyWaits, c.polls, c.ready,
		c.state, c.tests, c.messages, c.rate, c.avgLatency, c.sockets)
	return c
}

func (c *Collector) Waited(ready, polls int) {
	c.waits.Inc()
	c.polls.Add(float64(polls))
	if ready == 0 {
		c.emptyWaits.Inc()
		return
	}
	c.ready.Observe(float64(ready))
}

func (c *Collector) SetState(state string) {
	c.state.Reset()
	c.state.WithLabelValues(state).Set(1)
}

func (c *Collector) TestFinished(r *common.Report, runtime time.Duration) {
	c.tests.WithLabelValues("ok").Inc()
	c.messages.Add(float64(r.Messages))
	c.rate.Set(r.MessagesPerSecond(runtime))
	c.avgLatency.Set(time.Duration(r.AvgLatency).Seconds())
	c.sockets.Set(float64(r.Fairness.Sockets))
}

func (c *Collector) TestFailed(reason string) {
	c.tests.WithLabelValues(reason).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
