package metrics

import (
	"d20d/pkg/models"
	"d20d/pkg/utils/logger"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "d20d"

// Metrics holds the server's collectors on a private registry so several
// servers can coexist in one process (tests do).
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	CacheEntries    prometheus.Gauge
	ProtocolErrors  prometheus.Counter
	RateLimited     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by route and status code.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from accepting a connection to closing it.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "File requests answered from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "File requests that had to go to disk.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to stay within capacity.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held in the cache.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections dropped because of an unparseable request line.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Connections refused by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CacheEntries,
		m.ProtocolErrors,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// AdminServer exposes the registry and a liveness probe over HTTP.
type AdminServer struct {
	addr   string
	path   string
	server *fasthttp.Server
	logger *logger.Logger
}

func NewAdminServer(cfg *models.MetricsConfig, m *Metrics, logger *logger.Logger) *AdminServer {
	admin := &AdminServer{
		addr:   fmt.Sprintf(":%d", cfg.Port),
		path:   cfg.Path,
		logger: logger,
	}

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	)
	admin.server = &fasthttp.Server{
		Handler:          admin.handler(metricsHandler),
		Name:             "d20d-admin",
		DisableKeepalive: true,
	}
	return admin
}

func (admin *AdminServer) handler(metricsHandler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case admin.path:
			metricsHandler(ctx)
		case "/healthz":
			ctx.SetContentType("text/plain")
			ctx.SetBodyString("ok")
		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}
}

// Listen binds the admin address. Binding before Serve runs means Shutdown
// always has a listener to close.
func (admin *AdminServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", admin.addr)
	if err != nil {
		return nil, fmt.Errorf("admin listen on %s: %w", admin.addr, err)
	}
	return ln, nil
}

// Serve answers admin requests on ln until Shutdown is called or ln is closed.
func (admin *AdminServer) Serve(ln net.Listener) error {
	admin.logger.Info(fmt.Sprintf("Admin endpoint listening on %s (metrics at %s)", ln.Addr(), admin.path))
	return admin.server.Serve(ln)
}

func (admin *AdminServer) Shutdown() error {
	return admin.server.Shutdown()
}
