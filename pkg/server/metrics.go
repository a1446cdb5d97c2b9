package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberhollow/storywalk/pkg/protocol"
)

// Metrics holds Prometheus metric descriptors for the game server. Each
// server registers into its own registry so several instances can coexist
// in one process.
type Metrics struct {
	server   *Server
	registry *prometheus.Registry

	sessionsConnected *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	actionsTotal      *prometheus.CounterVec
	playersOnline     prometheus.Gauge
	storiesTotal      prometheus.Gauge
	accountsTotal     prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	memoryHeapBytes   prometheus.Gauge
	goroutines        prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the server.
func NewMetrics(s *Server) *Metrics {
	m := &Metrics{
		server:   s,
		registry: prometheus.NewRegistry(),
		sessionsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storywalk_sessions_connected",
			Help: "Number of currently connected sessions by transport.",
		}, []string{"transport"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storywalk_connections_total",
			Help: "Total connections since server start.",
		}, []string{"transport"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storywalk_actions_total",
			Help: "Total actions dispatched since server start.",
		}, []string{"action"}),
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_players_online",
			Help: "Number of players currently in the presence roster.",
		}),
		storiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_stories_total",
			Help: "Total stories in the story store.",
		}),
		accountsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_accounts_total",
			Help: "Total registered accounts.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.sessionsConnected,
		m.connectionsTotal,
		m.actionsTotal,
		m.playersOnline,
		m.storiesTotal,
		m.accountsTotal,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// ConnectionOpened counts a new connection on a transport.
func (m *Metrics) ConnectionOpened(t TransportType) {
	m.connectionsTotal.WithLabelValues(t.String()).Inc()
}

// ActionDispatched counts one dispatched action.
func (m *Metrics) ActionDispatched(a protocol.Action) {
	m.actionsTotal.WithLabelValues(string(a)).Inc()
}

// Update refreshes all gauge metrics from current server state.
func (m *Metrics) Update() {
	for transport, n := range m.server.Sessions.CountByTransport() {
		m.sessionsConnected.WithLabelValues(transport).Set(float64(n))
	}
	m.playersOnline.Set(float64(m.server.Roster.Count()))

	if n, err := m.server.Stories.Count(); err == nil {
		m.storiesTotal.Set(float64(n))
	}
	if n, err := m.server.Accounts.Count(); err == nil {
		m.accountsTotal.Set(float64(n))
	}

	m.uptimeSeconds.Set(time.Since(m.server.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
