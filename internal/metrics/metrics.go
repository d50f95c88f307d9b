// Package metrics exposes dispatcher and transport metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

const namespace = "rpcdispatch"

// Label values used when the method name is not a registered one. Request
// payloads choose method names, so they are not used as labels verbatim.
const (
	invalidMethod = "(invalid)"
	unknownMethod = "(unknown)"
)

// Service collects metrics. It implements jsonrpc.Observer.
type Service struct {
	gatherer prometheus.Gatherer

	// Dispatch metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	batchesTotal    prometheus.Counter
	batchSize       prometheus.Histogram

	// Transport metrics
	httpRequestsTotal   *prometheus.CounterVec
	wsConnectionsActive prometheus.Gauge
	wsMessagesTotal     *prometheus.CounterVec
}

// New registers the collectors on reg and returns the service. gatherer is
// what Handler serves; pass the same registry for both.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Service {
	factory := promauto.With(reg)

	return &Service{
		gatherer: gatherer,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of processed JSON-RPC requests",
			},
			[]string{"method", "code", "kind"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of JSON-RPC request processing in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		batchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batch payloads received",
			},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of elements in received batches",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests on the RPC endpoint",
			},
			[]string{"status"},
		),
		wsConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections_active",
				Help:      "Number of active WebSocket connections",
			},
		),
		wsMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction"},
		),
	}
}

// ObserveCall implements jsonrpc.Observer.
func (s *Service) ObserveCall(method string, code jsonrpc.ErrorCode, notification bool, duration time.Duration) {
	switch {
	case method == "":
		method = invalidMethod
	case code == jsonrpc.CodeMethodNotFound:
		method = unknownMethod
	}

	kind := "call"
	if notification {
		kind = "notification"
	}

	s.requestsTotal.WithLabelValues(method, strconv.Itoa(int(code)), kind).Inc()
	s.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveBatch records a received batch of n elements.
func (s *Service) ObserveBatch(n int) {
	s.batchesTotal.Inc()
	s.batchSize.Observe(float64(n))
}

// ObserveHTTPRequest records a served HTTP request.
func (s *Service) ObserveHTTPRequest(status int) {
	s.httpRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// IncWSConnectionsActive increments the active WebSocket connection gauge.
func (s *Service) IncWSConnectionsActive() {
	s.wsConnectionsActive.Inc()
}

// DecWSConnectionsActive decrements the active WebSocket connection gauge.
func (s *Service) DecWSConnectionsActive() {
	s.wsConnectionsActive.Dec()
}

// ObserveWSMessage records a WebSocket message; direction is "in" or "out".
func (s *Service) ObserveWSMessage(direction string) {
	s.wsMessagesTotal.WithLabelValues(direction).Inc()
}

// Handler returns an HTTP handler for exposing metrics.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}
