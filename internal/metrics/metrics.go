// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the core's Prometheus gauges/counters/histograms
// as a package-level var block of collectors registered in init(). Every metric
// here is derived purely from values the gateway, retrieval service, and
// orchestrator already compute for audit events — this package never gates
// behavior, it only observes it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LLMCallsTotal counts every top-level Gateway.Invoke/Embed call, one
	// increment per call regardless of retries, labeled by model and
	// outcome.
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisisintake_llm_calls_total",
			Help: "Total number of model gateway calls, one per top-level Invoke/Embed regardless of retry count.",
		},
		[]string{"model", "operation", "success"},
	)

	// LLMCallDuration tracks wall-clock latency across all attempts of a
	// single top-level gateway call.
	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crisisintake_llm_call_duration_milliseconds",
			Help:    "Gateway call duration in milliseconds, including all retry attempts.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"model", "operation"},
	)

	// LLMRetriesTotal counts additional attempts beyond the first, per
	// gateway call.
	LLMRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisisintake_llm_retries_total",
			Help: "Total additional attempts beyond the first, summed across gateway calls.",
		},
		[]string{"model"},
	)

	// CircuitBreakerState reports the current breaker state per model:
	// 0=closed, 1=open, 2=half_open.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crisisintake_circuit_breaker_state",
			Help: "Current circuit breaker state per model (0=closed, 1=open, 2=half_open).",
		},
		[]string{"model"},
	)

	// RetrievalRequestsTotal counts every Retrieval Service search call.
	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisisintake_retrieval_requests_total",
			Help: "Total retrieval searches, labeled by strategy, cache hit, and outcome.",
		},
		[]string{"strategy", "cache_hit", "success"},
	)

	// RetrievalDuration tracks retrieval latency.
	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crisisintake_retrieval_duration_milliseconds",
			Help:    "Retrieval search duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// AgentStepsTotal counts every dispatched agent execution.
	AgentStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisisintake_agent_steps_total",
			Help: "Total agent executions dispatched by the orchestrator, labeled by agent and outcome.",
		},
		[]string{"agent", "success"},
	)

	// RequestsTotal counts every ProcessRequest call at the orchestrator
	// boundary.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisisintake_requests_total",
			Help: "Total process_request calls, labeled by outcome and partial flag.",
		},
		[]string{"success", "partial"},
	)
)

func init() {
	prometheus.MustRegister(
		LLMCallsTotal,
		LLMCallDuration,
		LLMRetriesTotal,
		CircuitBreakerState,
		RetrievalRequestsTotal,
		RetrievalDuration,
		AgentStepsTotal,
		RequestsTotal,
	)
}

// BoolLabel renders a bool as the "true"/"false" label value Prometheus
// label sets expect.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
