package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_total",
			Help:      "Total questions answered from the queue by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "question_duration_seconds",
			Help:      "Queue question handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_in_flight",
			Help:      "Number of in-flight queue questions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
	}
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartQuestion() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishQuestion(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// Instrument wraps an answerer so every queue question is counted.
func (m *WorkerMetrics) Instrument(service string, next ports.QuestionAnswerer) ports.QuestionAnswerer {
	return instrumentedAnswerer{metrics: m, service: service, next: next}
}

type instrumentedAnswerer struct {
	metrics *WorkerMetrics
	service string
	next    ports.QuestionAnswerer
}

func (a instrumentedAnswerer) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	start := time.Now()
	a.metrics.StartQuestion()
	answer, err := a.next.Ask(ctx, req)
	a.metrics.FinishQuestion(a.service, time.Since(start), err)
	return answer, err
}
