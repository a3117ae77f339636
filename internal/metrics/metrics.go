// Package metrics 网络关联引擎与协议层的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 指标集合；nil 接收者上的方法均为空操作
type Collector struct {
	requests      *prometheus.CounterVec
	dispositions  *prometheus.CounterVec
	paused        prometheus.Gauge
	bodyBytes     prometheus.Counter
	evictedBytes  prometheus.Counter
	scopes        prometheus.Gauge
	protocolCalls *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "requests_observed_total",
			Help:      "Physical request attempts observed, by admission decision.",
		}, []string{"decision"}),
		dispositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "dispositions_total",
			Help:      "Disposition calls on intercepted requests.",
		}, []string{"kind", "outcome"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbridge",
			Name:      "requests_paused",
			Help:      "Requests currently paused awaiting disposition.",
		}),
		bodyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "response_body_bytes_total",
			Help:      "Response body bytes offered to the body store.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "response_body_evicted_bytes_total",
			Help:      "Response body bytes discarded by the body store.",
		}),
		scopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbridge",
			Name:      "scopes_tracked",
			Help:      "Owner scopes whose network activity is tracked.",
		}),
		protocolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbridge",
			Name:      "protocol_calls_total",
			Help:      "Protocol method calls, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.requests, c.dispositions, c.paused, c.bodyBytes, c.evictedBytes, c.scopes, c.protocolCalls)
	}
	return c
}

func (c *Collector) RequestObserved(decision string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(decision).Inc()
}

func (c *Collector) Disposition(kind string, err error) {
	if c == nil {
		return
	}
	c.dispositions.WithLabelValues(kind, outcome(err)).Inc()
}

func (c *Collector) Paused(delta int) {
	if c == nil {
		return
	}
	c.paused.Add(float64(delta))
}

func (c *Collector) BodyStored(size, evicted int) {
	if c == nil {
		return
	}
	c.bodyBytes.Add(float64(size))
	if evicted > 0 {
		c.evictedBytes.Add(float64(evicted))
	}
}

func (c *Collector) ScopeTracked(delta int) {
	if c == nil {
		return
	}
	c.scopes.Add(float64(delta))
}

func (c *Collector) ProtocolCall(method string, err error) {
	if c == nil {
		return
	}
	c.protocolCalls.WithLabelValues(method, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
