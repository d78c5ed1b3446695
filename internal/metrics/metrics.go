package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volley_requests_submitted_total",
		Help: "The total number of requests submitted to the engine",
	})

	RequestsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volley_requests_finished_total",
		Help: "The total number of requests reported finished by the engine",
	})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volley_engine_step_duration_seconds",
		Help:    "Duration of engine step calls",
		Buckets: prometheus.DefBuckets,
	})

	StepOutputs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volley_engine_step_outputs",
		Help:    "Number of outputs returned per engine step",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volley_generate_batch_size",
		Help:    "Number of requests per generate call",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	GenerateDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "volley_generate_duration_seconds",
		Help: "Duration of full generate calls",
	})

	GeneratedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volley_generated_tokens_total",
		Help: "The total number of tokens generated across all requests",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volley_validation_errors_total",
		Help: "Total number of input validation errors",
	}, []string{"reason"})

	UnfinishedRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volley_unfinished_requests",
		Help: "Unfinished requests known to the engine at poll time",
	})
)

func RecordSubmissions(n int) {
	RequestsSubmitted.Add(float64(n))
	BatchSize.Observe(float64(n))
}

func RecordStep(outputs int, duration time.Duration) {
	StepDuration.Observe(duration.Seconds())
	StepOutputs.Observe(float64(outputs))
}

func RecordFinished(tokens int) {
	RequestsFinished.Inc()
	GeneratedTokensTotal.Add(float64(tokens))
}

func RecordGenerate(duration time.Duration) {
	GenerateDuration.Observe(duration.Seconds())
}

func RecordValidationError(reason string) {
	ValidationErrors.WithLabelValues(reason).Inc()
}

func RecordUnfinished(n int) {
	UnfinishedRequests.Set(float64(n))
}
