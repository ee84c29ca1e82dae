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
	"sync"
	"testing"
	"time"

	"crisisintake/core/internal/audit"
	cerrors "crisisintake/core/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	results []error
	resp    *CompletionResponse
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	if idx < len(p.results) && p.results[idx] != nil {
		return nil, p.results[idx]
	}
	if p.resp != nil {
		return p.resp, nil
	}
	return &CompletionResponse{Content: "ok", Model: "test-model"}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	return &EmbeddingResponse{Vectors: [][]float64{{0.1, 0.2}}, Model: "test-model"}, nil
}

type captureSink struct {
	events []map[string]any
}

func (c *captureSink) Write(event map[string]any) error {
	c.events = append(c.events, event)
	return nil
}

func newTestAuditCtx() *audit.Context {
	return audit.New("wf-test", "tenant-test", "", true, &captureSink{})
}

func baseCfg() GatewayConfig {
	return GatewayConfig{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		RetryJitter:    0,
		DefaultTimeout: 50 * time.Millisecond,
		CBThreshold:    5,
		CBRecovery:     20 * time.Millisecond,
		CBHalfOpenMax:  1,
	}
}

func TestInvokeSucceedsOnFirstAttempt(t *testing.T) {
	p := &scriptedProvider{}
	g := NewGateway(p, baseCfg())
	auditCtx := newTestAuditCtx()

	resp, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	events := auditCtx.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Fields["retries"])
}

func TestInvokeRetriesClassifiedTransientError(t *testing.T) {
	p := &scriptedProvider{
		results: []error{
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
			nil,
		},
	}
	cfg := baseCfg()
	cfg.RetryEnabled = true
	cfg.MaxRetries = 3
	g := NewGateway(p, cfg)
	auditCtx := newTestAuditCtx()

	resp, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	events := auditCtx.Events()
	assert.Equal(t, 1, events[0].Fields["retries"])
}

func TestInvokeDoesNotRetryWhenDisabled(t *testing.T) {
	p := &scriptedProvider{
		results: []error{
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
		},
	}
	g := NewGateway(p, baseCfg())

	_, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, newTestAuditCtx())

	require.Error(t, err)
	assert.Equal(t, cerrors.KindProviderTransient, cerrors.KindOf(err))
	assert.Equal(t, 1, p.calls)
}

func TestInvokeDoesNotRetryAuthError(t *testing.T) {
	p := &scriptedProvider{
		results: []error{
			&ProviderError{Provider: "scripted", Code: ErrCodeAuth, Message: "bad key"},
		},
	}
	cfg := baseCfg()
	cfg.RetryEnabled = true
	cfg.MaxRetries = 3
	g := NewGateway(p, cfg)

	_, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, newTestAuditCtx())

	require.Error(t, err)
	assert.Equal(t, cerrors.KindProviderFatal, cerrors.KindOf(err))
	assert.Equal(t, 1, p.calls)
}

func TestInvokeOpensCircuitAfterThresholdFailures(t *testing.T) {
	p := &scriptedProvider{
		results: []error{
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
		},
	}
	cfg := baseCfg()
	cfg.CircuitEnabled = true
	cfg.CBThreshold = 2
	g := NewGateway(p, cfg)
	auditCtx := newTestAuditCtx()

	_, err1 := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)
	_, err2 := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)
	require.Error(t, err1)
	require.Error(t, err2)

	_, err3 := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)
	require.Error(t, err3)
	assert.Equal(t, cerrors.KindCircuitOpen, cerrors.KindOf(err3))
	assert.Equal(t, 2, p.calls, "third call should have been rejected before reaching the provider")
}

func TestInvokeEmitsExactlyOneAuditEventRegardlessOfRetries(t *testing.T) {
	p := &scriptedProvider{
		results: []error{
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
			&ProviderError{Provider: "scripted", Code: ErrCodeServer5xx, Message: "boom"},
			nil,
		},
	}
	cfg := baseCfg()
	cfg.RetryEnabled = true
	cfg.MaxRetries = 3
	g := NewGateway(p, cfg)
	auditCtx := newTestAuditCtx()

	_, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, auditCtx)

	require.NoError(t, err)
	events := auditCtx.Events()
	assert.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Fields["retries"])
}

func TestInvokeNeverLogsPromptOrResponseByDefault(t *testing.T) {
	p := &scriptedProvider{}
	g := NewGateway(p, baseCfg())
	auditCtx := newTestAuditCtx()

	_, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "sensitive details"}, 0, auditCtx)

	require.NoError(t, err)
	events := auditCtx.Events()
	_, hasPrompt := events[0].Fields["prompt"]
	_, hasResponse := events[0].Fields["response"]
	assert.False(t, hasPrompt)
	assert.False(t, hasResponse)
}

func TestInvokeHonorsTimeout(t *testing.T) {
	p := &slowProvider{delay: 30 * time.Millisecond}
	cfg := baseCfg()
	cfg.TimeoutEnabled = true
	g := NewGateway(p, cfg)

	_, err := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 5*time.Millisecond, newTestAuditCtx())

	require.Error(t, err)
	assert.Equal(t, cerrors.KindProviderTransient, cerrors.KindOf(err))
}

func TestInvokeCancellationDoesNotOpenCircuit(t *testing.T) {
	p := &slowProvider{delay: 50 * time.Millisecond}
	cfg := baseCfg()
	cfg.CircuitEnabled = true
	cfg.CBThreshold = 1
	g := NewGateway(p, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	_, err := g.Invoke(ctx, CompletionRequest{Prompt: "hi"}, 0, newTestAuditCtx())
	require.Error(t, err)
	assert.Equal(t, cerrors.KindCancelled, cerrors.KindOf(err))

	// A cancelled attempt must not have tripped the breaker - the very next
	// call on the same gateway/model should still reach the provider rather
	// than fail fast with CircuitBreakerOpenError.
	_, err2 := g.Invoke(context.Background(), CompletionRequest{Prompt: "hi"}, 0, newTestAuditCtx())
	require.NoError(t, err2)
}

type slowProvider struct{ delay time.Duration }

func (p *slowProvider) Name() string         { return "slow" }
func (p *slowProvider) DefaultModel() string { return "test-model" }

func (p *slowProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	select {
	case <-time.After(p.delay):
		return &CompletionResponse{Content: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *slowProvider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, nil
}
