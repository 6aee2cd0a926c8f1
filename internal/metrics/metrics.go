// Package metrics exposes questboard counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

const namespace = "questboard"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	participants    prometheus.Gauge
	champions       prometheus.Gauge
	successRate     prometheus.Gauge
	lastUpdate      prometheus.Gauge
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_refreshes_total",
			Help:      "Leaderboard rebuilds by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "leaderboard_refresh_duration_seconds",
			Help:      "Time spent rebuilding the leaderboard.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_participants",
			Help:      "Participants on the latest leaderboard.",
		}),
		champions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_champions",
			Help:      "Participants who completed the quest.",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_success_rate_percent",
			Help:      "Champions as a percentage of participants.",
		}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_last_update_timestamp_seconds",
			Help:      "Unix time of the latest successful rebuild.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshes, m.refreshDuration,
		m.participants, m.champions, m.successRate, m.lastUpdate,
		m.requests, m.requestDuration,
	)
	return m
}

// ObserveRefresh records one rebuild attempt.
func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

// SetBoard publishes the stats of a freshly built board.
func (m *Metrics) SetBoard(b models.Leaderboard) {
	m.participants.Set(float64(b.Stats.TotalParticipants))
	m.champions.Set(float64(b.Stats.Champions))
	m.successRate.Set(float64(b.Stats.SuccessRate))
	m.lastUpdate.Set(float64(b.UpdatedAt.Unix()))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
