package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(llmTokensIn, llmTokensOut, llmCallLatencyMs, llmRetriesTotal, confidenceScore)
}

var llmTokensIn = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "llm_tokens_in",
		Help: "Sum of prompt (input) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var llmTokensOut = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "llm_tokens_out",
		Help: "Sum of completion (output) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var llmCallLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "llm_calls_latency_ms",
		Help:    "Extraction call latency distribution in milliseconds.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
	},
	[]string{"provider", "model", "success"},
)

var llmRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Extraction retries per provider/model.",
	},
	[]string{"provider", "model"},
)

var confidenceScore = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "extraction_confidence_score",
		Help:    "Distribution of final confidence scores.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	},
)

// ObserveExtraction records usage and latency for one provider call.
func ObserveExtraction(provider, model string, tokensIn, tokensOut, latencyMs int, success bool) {
	p, m := norm(provider), norm(model)
	if tokensIn > 0 {
		llmTokensIn.WithLabelValues(p, m).Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		llmTokensOut.WithLabelValues(p, m).Add(float64(tokensOut))
	}
	llmCallLatencyMs.WithLabelValues(p, m, strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncExtractionRetry(provider, model string) {
	llmRetriesTotal.WithLabelValues(norm(provider), norm(model)).Inc()
}

func ObserveConfidence(score float64) { confidenceScore.Observe(score) }
