package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the dispatch engine reports through, mirroring the
// teacher's k8sproxy multiplexer metric set (cache size/hits/misses becomes sessions/upstreams/
// proxy-result here).
type Metrics struct {
	SessionsTotal   prometheus.Counter
	ActiveUpstreams prometheus.Gauge
	ProxyRequests   *prometheus.CounterVec
}

// NewMetrics builds a Metrics set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scproxy_sessions_total",
			Help: "Number of sessions created.",
		}),
		ActiveUpstreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scproxy_active_upstreams",
			Help: "Number of currently established upstream pump connections.",
		}),
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scproxy_proxy_requests_total",
			Help: "Number of gRPC proxy requests by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.SessionsTotal, m.ActiveUpstreams, m.ProxyRequests)

	return m
}
