package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// PipelineMetrics records answer pipeline telemetry.
type PipelineMetrics struct {
	service string

	answersTotal         *prometheus.CounterVec
	answerDuration       *prometheus.HistogramVec
	degradedTotal        *prometheus.CounterVec
	fuserDuration        *prometheus.HistogramVec
	fuserResults         *prometheus.HistogramVec
	filteredCitations    prometheus.Counter
	unsupportedSentences prometheus.Counter
	circuitState         *prometheus.GaugeVec
}

var _ ports.PipelineObserver = (*PipelineMetrics)(nil)

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		answersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "answers_total",
				Help:      "Answers produced, by task and outcome.",
			},
			[]string{"service", "task", "outcome"},
		),
		answerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "answer_duration_seconds",
				Help:      "End-to-end answer latency in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"service", "task"},
		),
		degradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "degraded_total",
				Help:      "Degraded answers by reason code.",
			},
			[]string{"service", "reason"},
		),
		fuserDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "fuser_duration_seconds",
				Help:      "Retrieval fuser latency by source and status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "source", "status"},
		),
		fuserResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "fuser_results",
				Help:      "Result count per fuser call.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"service", "source"},
		),
		filteredCitations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "verifier",
			Name:        "filtered_citations_total",
			Help:        "Citations dropped because they fell outside the allow set.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		unsupportedSentences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "verifier",
			Name:        "unsupported_sentences_total",
			Help:        "Answer sentences without lexical support in the evidence.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "circuit_state",
				Help:      "1 for the current provider circuit state, 0 otherwise.",
			},
			[]string{"service", "state"},
		),
	}

	registerer.MustRegister(
		m.answersTotal,
		m.answerDuration,
		m.degradedTotal,
		m.fuserDuration,
		m.fuserResults,
		m.filteredCitations,
		m.unsupportedSentences,
		m.circuitState,
	)
	m.setCircuit(domain.BreakerClosed)
	return m
}

func (m *PipelineMetrics) ObserveFuser(source domain.RetrievalSource, duration time.Duration, results int, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.fuserDuration.WithLabelValues(m.service, string(source), status).Observe(duration.Seconds())
	if !failed {
		m.fuserResults.WithLabelValues(m.service, string(source)).Observe(float64(results))
	}
}

func (m *PipelineMetrics) ObserveAnswer(answer *domain.Answer, duration time.Duration) {
	if answer == nil {
		return
	}
	task := string(answer.Task)
	if task == "" {
		task = "none"
	}
	m.answersTotal.WithLabelValues(m.service, task, answerOutcome(answer)).Inc()
	m.answerDuration.WithLabelValues(m.service, task).Observe(duration.Seconds())
	if answer.Degraded {
		reason := string(answer.Reason)
		if reason == "" {
			reason = "unspecified"
		}
		m.degradedTotal.WithLabelValues(m.service, reason).Inc()
	}
}

func (m *PipelineMetrics) ObserveFilteredCitations(count int) {
	if count > 0 {
		m.filteredCitations.Add(float64(count))
	}
}

func (m *PipelineMetrics) ObserveUnsupportedSentences(count int) {
	if count > 0 {
		m.unsupportedSentences.Add(float64(count))
	}
}

// CircuitListener returns a breaker state listener that keeps the gauge current.
func (m *PipelineMetrics) CircuitListener() func(from, to domain.BreakerState) {
	return func(_, to domain.BreakerState) {
		m.setCircuit(to)
	}
}

func (m *PipelineMetrics) setCircuit(current domain.BreakerState) {
	for _, state := range []domain.BreakerState{domain.BreakerClosed, domain.BreakerOpen, domain.BreakerHalfOpen} {
		value := 0.0
		if state == current {
			value = 1
		}
		m.circuitState.WithLabelValues(m.service, string(state)).Set(value)
	}
}

func answerOutcome(answer *domain.Answer) string {
	switch {
	case answer.RequiresClarification:
		return "clarification"
	case answer.Partial:
		return "partial"
	case answer.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}
