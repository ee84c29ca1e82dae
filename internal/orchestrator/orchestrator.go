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

package orchestrator

import (
	"context"
	"sort"
	"time"

	"crisisintake/core/internal/agents"
	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
	"crisisintake/core/internal/metrics"
	"crisisintake/core/internal/retrieval"
)

// Orchestrator is the process's single entry point, composing every
// specialist agent around one shared Model Gateway and Retrieval Service.
// It owns no cross-request state: a fresh audit.Context is created per
// ProcessRequest call and closed before it returns.
type Orchestrator struct {
	gateway   *llm.Gateway
	retriever *retrieval.Service

	queryAgent           *agents.QueryAgent
	analyticsAgent       *agents.AnalyticsAgent
	triageAgent          *agents.TriageAgent
	recommendationsAgent *agents.RecommendationsAgent
	knowledgeAgent       *agents.KnowledgeAgent

	platformEnabled        bool
	includeTraceInResponse bool
	sink                   audit.Sink
}

// Deps bundles the agents and shared singletons an Orchestrator is wired
// against, constructed once at process start by internal/app.
type Deps struct {
	Gateway                *llm.Gateway
	Retriever              *retrieval.Service
	QueryAgent             *agents.QueryAgent
	AnalyticsAgent         *agents.AnalyticsAgent
	TriageAgent            *agents.TriageAgent
	RecommendationsAgent   *agents.RecommendationsAgent
	KnowledgeAgent         *agents.KnowledgeAgent
	PlatformEnabled        bool
	IncludeTraceInResponse bool
	Sink                   audit.Sink
}

// New constructs an Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		gateway:                d.Gateway,
		retriever:              d.Retriever,
		queryAgent:             d.QueryAgent,
		analyticsAgent:         d.AnalyticsAgent,
		triageAgent:            d.TriageAgent,
		recommendationsAgent:   d.RecommendationsAgent,
		knowledgeAgent:         d.KnowledgeAgent,
		platformEnabled:        d.PlatformEnabled,
		includeTraceInResponse: d.IncludeTraceInResponse,
		sink:                   d.Sink,
	}
}

// ProcessRequest drives one request through START→CLASSIFY→DISPATCH→
// SYNTHESIZE→DONE. It never returns a non-nil error to its caller —
// every failure is reported inside the ResponseEnvelope. The error
// return exists only so a
// caller can plumb ctx cancellation through the same call shape the
// HTTP-surface collaborator expects.
func (o *Orchestrator) ProcessRequest(ctx context.Context, query, workflowID, tenantID, inboundTraceID string) (*ResponseEnvelope, error) {
	start := time.Now()

	auditCtx := audit.New(workflowID, tenantID, inboundTraceID, o.platformEnabled, o.sink)
	defer auditCtx.Close()

	envelope := o.run(ctx, query, auditCtx)

	auditCtx.Record(audit.OpAPIRequest, envelope.Success, float64(time.Since(start))/float64(time.Millisecond), map[string]any{
		"endpoint": "process_request",
		"method":   "CALL",
	})

	metrics.RequestsTotal.WithLabelValues(metrics.BoolLabel(envelope.Success), metrics.BoolLabel(envelope.Partial)).Inc()

	return envelope, nil
}

// run implements the state machine body once START has opened the audit
// context.
func (o *Orchestrator) run(ctx context.Context, query string, auditCtx *audit.Context) *ResponseEnvelope {
	// CLASSIFY
	intent, confidence, err := o.classify(ctx, query, auditCtx)
	if err != nil {
		return o.errorEnvelope(errors.KindOf(err), "intent classification failed: "+err.Error(), auditCtx)
	}
	if shouldFallbackToKnowledge(intent, confidence) {
		intent = IntentPolicyQuestion
	}

	// DISPATCH
	outcomes := o.dispatch(ctx, intent, query, auditCtx)

	// SYNTHESIZE
	return o.synthesize(outcomes, auditCtx)
}

// synthesize composes the final envelope from dispatched outcomes: sources
// are deduplicated by {source_id, chunk_id} keeping the highest-scoring
// occurrence, ordered descending by score; a failed non-critical agent
// marks the response partial rather than failing it outright.
func (o *Orchestrator) synthesize(outcomes []outcome, auditCtx *audit.Context) *ResponseEnvelope {
	var (
		usedAgents []string
		answer     string
		data       = map[string]any{}
		partial    bool
		anySuccess bool
		lastErr    *errors.Error
	)

	sourcesByKey := map[string]retrieval.Citation{}

	for _, out := range outcomes {
		if out.result == nil {
			partial = true
			continue
		}
		if !out.result.Success {
			partial = true
			lastErr = out.result.Error
			continue
		}

		anySuccess = true
		usedAgents = append(usedAgents, out.agentName)
		data[out.agentName] = out.result.Data

		if a, ok := out.result.Data.(map[string]any); ok {
			if txt, ok := a["answer"].(string); ok && txt != "" {
				answer = txt
			}
			if txt, ok := a["summary"].(string); ok && answer == "" {
				answer = txt
			}
			if txt, ok := a["interpretation"].(string); ok && answer == "" {
				answer = txt
			}
		}

		for _, c := range out.result.Sources {
			key := c.IdentityKey()
			if existing, ok := sourcesByKey[key]; !ok || c.Score() > existing.Score() {
				sourcesByKey[key] = c
			}
		}
	}

	if !anySuccess {
		msg := "all dispatched agents failed"
		kind := errors.KindInternal
		if lastErr != nil {
			msg = lastErr.Message
			kind = lastErr.Kind
		}
		return o.errorEnvelope(kind, msg, auditCtx)
	}

	sources := make([]retrieval.Citation, 0, len(sourcesByKey))
	for _, c := range sourcesByKey {
		sources = append(sources, c)
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Score() > sources[j].Score() })

	envelope := &ResponseEnvelope{
		Success:    true,
		AnswerText: answer,
		Data:       data,
		Sources:    sources,
		UsedAgents: usedAgents,
		Partial:    partial,
	}
	o.attachTrace(envelope, auditCtx)
	return envelope
}

// errorEnvelope builds the failure-path ResponseEnvelope. The message is
// human-readable and never carries internal stack traces or prompt text.
func (o *Orchestrator) errorEnvelope(kind errors.Kind, message string, auditCtx *audit.Context) *ResponseEnvelope {
	envelope := &ResponseEnvelope{
		Success: false,
		Sources: []retrieval.Citation{},
		Error:   &EnvelopeError{Kind: kind, Message: sanitizeMessage(message)},
	}
	o.attachTrace(envelope, auditCtx)
	return envelope
}

func (o *Orchestrator) attachTrace(envelope *ResponseEnvelope, auditCtx *audit.Context) {
	if !o.includeTraceInResponse {
		return
	}
	meta := auditCtx.TraceMetadata()
	if meta["trace_id"] == "" {
		return
	}
	envelope.Trace = &TraceMetadata{
		TraceID:    meta["trace_id"],
		RequestID:  meta["request_id"],
		WorkflowID: meta["workflow_id"],
	}
}

// sanitizeMessage keeps the user-visible error message free of anything
// that looks like an internal stack trace.
func sanitizeMessage(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
