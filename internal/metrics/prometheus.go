package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes the service counters on /metrics
type PrometheusMetrics struct {
	apiRequests        *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	proposals          *prometheus.CounterVec
	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	tokens             *prometheus.CounterVec
	phrases            prometheus.Histogram
	commits            *prometheus.CounterVec
	discards           *prometheus.CounterVec
	openStreams        prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_api_requests_total",
			Help: "API requests by endpoint and status code",
		}, []string{"endpoint", "status"}),
		apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "variations_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"endpoint"}),
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_proposals_total",
			Help: "Propose calls by outcome",
		}, []string{"outcome"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_generations_total",
			Help: "Finished generation tasks by generator and outcome",
		}, []string{"generator", "outcome"}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "variations_generation_duration_seconds",
			Help:    "Generation task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
		}, []string{"generator"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_llm_tokens_total",
			Help: "LLM tokens by model and kind",
		}, []string{"model", "kind"}),
		phrases: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "variations_phrases_per_variation",
			Help:    "Phrases produced per ready variation",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_commits_total",
			Help: "Commit calls by outcome",
		}, []string{"outcome"}),
		discards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "variations_discards_total",
			Help: "Discard calls by outcome",
		}, []string{"outcome"}),
		openStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "variations_open_streams",
			Help: "Currently connected SSE subscribers",
		}),
	}
}

func (m *PrometheusMetrics) RecordAPIRequest(_ context.Context, endpoint string, statusCode int, duration time.Duration) {
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordProposal(_ context.Context, outcome string) {
	m.proposals.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordGeneration(_ context.Context, generator string, duration time.Duration, outcome string) {
	m.generations.WithLabelValues(generator, outcome).Inc()
	m.generationDuration.WithLabelValues(generator).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTokenUsage(_ context.Context, model string, usage llm.Usage) {
	m.tokens.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	if usage.ReasoningTokens > 0 {
		m.tokens.WithLabelValues(model, "reasoning").Add(float64(usage.ReasoningTokens))
	}
}

func (m *PrometheusMetrics) RecordPhrases(_ context.Context, count int) {
	m.phrases.Observe(float64(count))
}

func (m *PrometheusMetrics) RecordCommit(_ context.Context, outcome string, _ int) {
	m.commits.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordDiscard(_ context.Context, outcome string) {
	m.discards.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) StreamOpened() { m.openStreams.Inc() }

func (m *PrometheusMetrics) StreamClosed() { m.openStreams.Dec() }
