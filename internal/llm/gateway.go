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

package llm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"crisisintake/core/internal/audit"
	cerrors "crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm/breaker"
	"crisisintake/core/internal/metrics"
)

// GatewayConfig carries the reliability knobs the gateway applies around
// every provider call. Values are copied verbatim from config.Config at
// construction time; the gateway never re-reads the environment.
type GatewayConfig struct {
	TimeoutEnabled bool
	DefaultTimeout time.Duration
	RetryEnabled   bool
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64
	CircuitEnabled bool
	CBThreshold    int
	CBRecovery     time.Duration
	CBHalfOpenMax  int
	AuditPrompts   bool
	AuditResponses bool
}

// Gateway is the sole chokepoint for provider traffic. One instance is
// constructed at process start and shared by every agent.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// NewGateway constructs a Gateway around a single provider instance.
func NewGateway(provider Provider, cfg GatewayConfig) *Gateway {
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		breakers: make(map[string]*breaker.Breaker),
	}
}

func (g *Gateway) breakerFor(model string) *breaker.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[model]
	if !ok {
		b = breaker.New(g.cfg.CBThreshold, g.cfg.CBRecovery, g.cfg.CBHalfOpenMax)
		g.breakers[model] = b
	}
	return b
}

// Invoke runs a completion through the full reliability algorithm: circuit
// gate, optional timeout, classified retry with backoff+jitter, and a
// circuit state update, emitting exactly one llm_call audit event
// regardless of how many attempts were made.
func (g *Gateway) Invoke(ctx context.Context, req CompletionRequest, timeout time.Duration, auditCtx *audit.Context) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = g.provider.DefaultModel()
	}

	promptLen := len(req.Prompt)
	for _, m := range req.Messages {
		promptLen += len(m.Content)
	}

	start := time.Now()
	resp, attempts, err := g.invokeWithReliability(ctx, req, model, timeout)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// A circuit-open rejection makes zero attempts; retries is the count
	// of attempts beyond the first and never goes negative.
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	fields := map[string]any{
		"model":         model,
		"operation":     "invoke",
		"retries":       retries,
		"prompt_length": promptLen,
	}
	if g.cfg.AuditPrompts {
		fields["prompt"] = req.Prompt
	}

	success := err == nil
	if success {
		fields["response_length"] = len(resp.Content)
		fields["tokens_estimate"] = resp.Usage.TotalTokens
		if g.cfg.AuditResponses {
			fields["response"] = resp.Content
		}
	} else {
		fields["error_type"] = errorType(err)
	}

	if auditCtx != nil {
		auditCtx.Record(audit.OpLLMCall, success, latencyMs, fields)
	}

	metrics.LLMCallsTotal.WithLabelValues(model, "invoke", metrics.BoolLabel(success)).Inc()
	metrics.LLMCallDuration.WithLabelValues(model, "invoke").Observe(latencyMs)
	metrics.LLMRetriesTotal.WithLabelValues(model).Add(float64(retries))
	metrics.CircuitBreakerState.WithLabelValues(model).Set(float64(g.breakerFor(model).State()))

	return resp, err
}

// Embed is the embedding counterpart of Invoke. It shares the same
// reliability algorithm but has no prompt/response length fields to record.
func (g *Gateway) Embed(ctx context.Context, req EmbeddingRequest, timeout time.Duration, auditCtx *audit.Context) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = g.provider.DefaultModel()
	}

	start := time.Now()
	vecs, attempts, err := g.embedWithReliability(ctx, req, model, timeout)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	fields := map[string]any{
		"model":     model,
		"operation": "embed",
		"retries":   retries,
		"n_texts":   len(req.Texts),
	}
	success := err == nil
	if !success {
		fields["error_type"] = errorType(err)
	}

	if auditCtx != nil {
		auditCtx.Record(audit.OpLLMCall, success, latencyMs, fields)
	}

	metrics.LLMCallsTotal.WithLabelValues(model, "embed", metrics.BoolLabel(success)).Inc()
	metrics.LLMCallDuration.WithLabelValues(model, "embed").Observe(latencyMs)
	metrics.LLMRetriesTotal.WithLabelValues(model).Add(float64(retries))
	metrics.CircuitBreakerState.WithLabelValues(model).Set(float64(g.breakerFor(model).State()))

	return vecs, err
}

// invokeWithReliability implements steps 1-5 of the gateway algorithm for a
// single completion call, returning the number of attempts made.
func (g *Gateway) invokeWithReliability(ctx context.Context, req CompletionRequest, model string, timeout time.Duration) (*CompletionResponse, int, error) {
	cb := g.breakerFor(model)

	if g.cfg.CircuitEnabled && !cb.Allow() {
		return nil, 0, cerrors.New(cerrors.KindCircuitOpen, "llm", "invoke", "circuit breaker open for model "+model, nil)
	}

	attempts := 0
	maxAttempts := 1
	if g.cfg.RetryEnabled {
		maxAttempts = 1 + g.cfg.MaxRetries
	}

	var lastErr error
	for attempts < maxAttempts {
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if g.cfg.TimeoutEnabled {
			d := timeout
			if d <= 0 {
				d = g.cfg.DefaultTimeout
			}
			attemptCtx, cancel = context.WithTimeout(ctx, d)
		}

		resp, err := g.provider.Complete(attemptCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if g.cfg.CircuitEnabled {
				cb.RecordSuccess()
			}
			return resp, attempts, nil
		}

		classified := classify(err, attemptCtx)
		lastErr = classified

		if attempts >= maxAttempts || !isRetryable(classified) {
			if g.cfg.CircuitEnabled && !isCancelled(classified) {
				cb.RecordFailure()
			}
			return nil, attempts, classified
		}

		if waitErr := g.backoff(ctx, attempts); waitErr != nil {
			// Cancellation during the backoff wait never leaks into the
			// circuit breaker - the attempt never reached the provider.
			return nil, attempts, cerrors.New(cerrors.KindCancelled, "llm", "invoke", "request cancelled during backoff", waitErr)
		}
	}

	if g.cfg.CircuitEnabled && !isCancelled(lastErr) {
		cb.RecordFailure()
	}
	return nil, attempts, lastErr
}

func (g *Gateway) embedWithReliability(ctx context.Context, req EmbeddingRequest, model string, timeout time.Duration) (*EmbeddingResponse, int, error) {
	cb := g.breakerFor(model)

	if g.cfg.CircuitEnabled && !cb.Allow() {
		return nil, 0, cerrors.New(cerrors.KindCircuitOpen, "llm", "embed", "circuit breaker open for model "+model, nil)
	}

	attempts := 0
	maxAttempts := 1
	if g.cfg.RetryEnabled {
		maxAttempts = 1 + g.cfg.MaxRetries
	}

	var lastErr error
	for attempts < maxAttempts {
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if g.cfg.TimeoutEnabled {
			d := timeout
			if d <= 0 {
				d = g.cfg.DefaultTimeout
			}
			attemptCtx, cancel = context.WithTimeout(ctx, d)
		}

		resp, err := g.provider.Embed(attemptCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if g.cfg.CircuitEnabled {
				cb.RecordSuccess()
			}
			return resp, attempts, nil
		}

		classified := classify(err, attemptCtx)
		lastErr = classified

		if attempts >= maxAttempts || !isRetryable(classified) {
			if g.cfg.CircuitEnabled && !isCancelled(classified) {
				cb.RecordFailure()
			}
			return nil, attempts, classified
		}

		if waitErr := g.backoff(ctx, attempts); waitErr != nil {
			return nil, attempts, cerrors.New(cerrors.KindCancelled, "llm", "embed", "request cancelled during backoff", waitErr)
		}
	}

	if g.cfg.CircuitEnabled && !isCancelled(lastErr) {
		cb.RecordFailure()
	}
	return nil, attempts, lastErr
}

// backoff waits min(base*2^(attempt-1), max) seconds, jittered by a random
// factor in [1-jitter, 1+jitter], or returns ctx.Err() if cancelled first.
func (g *Gateway) backoff(ctx context.Context, attempt int) error {
	delay := g.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > g.cfg.RetryMaxDelay {
		delay = g.cfg.RetryMaxDelay
	}

	if g.cfg.RetryJitter > 0 {
		factor := 1 - g.cfg.RetryJitter + rand.Float64()*2*g.cfg.RetryJitter
		delay = time.Duration(float64(delay) * factor)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// classify maps a provider or transport error onto the gateway's own error
// taxonomy. A context deadline becomes a KindProviderTransient error
// regardless of what the provider returned; anything not recognized is
// wrapped as KindProviderFatal per the "non-classified exception" edge case.
func classify(err error, attemptCtx context.Context) error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return cerrors.New(cerrors.KindProviderTransient, "llm", "invoke", "provider call timed out", err)
	}
	if errors.Is(attemptCtx.Err(), context.Canceled) {
		return cerrors.New(cerrors.KindCancelled, "llm", "invoke", "request cancelled", err)
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Code {
		case ErrCodeAuth:
			return cerrors.New(cerrors.KindProviderFatal, "llm", "invoke", "provider authentication failed", err)
		case ErrCodeRateLimit, ErrCodeTimeout, ErrCodeConnection, ErrCodeServer5xx:
			return cerrors.New(cerrors.KindProviderTransient, "llm", "invoke", string(perr.Code), err)
		default:
			return cerrors.New(cerrors.KindProviderFatal, "llm", "invoke", "non-retryable provider error", err)
		}
	}

	return cerrors.New(cerrors.KindProviderFatal, "llm", "invoke", "unclassified provider error", err)
}

func isRetryable(err error) bool {
	return cerrors.KindOf(err) == cerrors.KindProviderTransient
}

// isCancelled reports whether err represents a cancelled request, which must
// never be counted as a circuit-breaker failure — a caller backing out
// says nothing about provider health.
func isCancelled(err error) bool {
	return cerrors.KindOf(err) == cerrors.KindCancelled
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return string(cerrors.KindOf(err))
}
