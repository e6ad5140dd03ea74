// Package metrics содержит Prometheus-метрики сервиса кассовых смен.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry содержит коллекторы приложения.
	Registry = prometheus.NewRegistry()

	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashdrawer",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Calls to the remote session store and providers.",
		},
		[]string{"op", "result"},
	)

	localFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashdrawer",
			Subsystem: "local",
			Name:      "fallbacks_total",
			Help:      "Times local flags were used or written because the remote store failed.",
		},
		[]string{"op"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cashdrawer",
			Subsystem: "session",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full state refresh.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	drawerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cashdrawer",
			Subsystem: "session",
			Name:      "drawer_open",
			Help:      "1 when a cash drawer is considered open, 0 otherwise.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashdrawer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cashdrawer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		remoteCalls,
		localFallbacks,
		refreshDuration,
		drawerOpen,
		httpRequests,
		httpDuration,
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRemoteCall учитывает обращение к удалённому хранилищу.
func RecordRemoteCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteCalls.WithLabelValues(op, result).Inc()
}

// RecordLocalFallback учитывает использование локальных флагов вместо удалённого хранилища.
func RecordLocalFallback(op string) {
	localFallbacks.WithLabelValues(op).Inc()
}

// ObserveRefresh фиксирует длительность обновления состояния.
func ObserveRefresh(d time.Duration) {
	refreshDuration.Observe(d.Seconds())
}

// SetDrawerOpen выставляет признак открытой кассы.
func SetDrawerOpen(open bool) {
	if open {
		drawerOpen.Set(1)
		return
	}
	drawerOpen.Set(0)
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
