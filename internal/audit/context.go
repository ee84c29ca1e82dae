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

// Package audit implements the per-request correlation object: it owns
// trace_id/request_id/workflow_id/tenant_id, records structured events,
// and writes each one to its sink as it is recorded. Events belong to a closed
// four-operation set (api_request, llm_call, retrieval, agent_step) and
// are emitted one JSON line per event.
package audit

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation is the closed set of audit operations.
type Operation string

const (
	OpAPIRequest Operation = "api_request"
	OpLLMCall    Operation = "llm_call"
	OpRetrieval  Operation = "retrieval"
	OpAgentStep  Operation = "agent_step"
)

// secretPattern catches provider API-key-shaped substrings so they never
// reach the sink even if a caller passes one in by accident.
var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)

// Event is one structured audit record.
type Event struct {
	Timestamp  time.Time
	TraceID    string
	RequestID  string
	WorkflowID string
	TenantID   string
	Operation  Operation
	LatencyMs  float64
	Success    bool
	Fields     map[string]any
}

// Context is the per-request audit correlation object. It is single-writer:
// only the owning request's goroutine may call its methods.
type Context struct {
	enabled    bool
	traceID    string
	requestID  string
	workflowID string
	tenantID   string
	sink       Sink
	mu         sync.Mutex
	events     []Event
}

// New creates a fresh audit Context. It adopts inboundTraceID iff it is a
// well-formed UUID; otherwise a fresh UUIDv4 is generated. When
// platformEnabled is false, every method becomes a no-op.
func New(workflowID, tenantID, inboundTraceID string, platformEnabled bool, sink Sink) *Context {
	if tenantID == "" {
		tenantID = "default"
	}
	if !platformEnabled {
		return &Context{enabled: false, sink: noopSink{}}
	}

	traceID := inboundTraceID
	if _, err := uuid.Parse(traceID); err != nil {
		traceID = uuid.NewString()
	}

	if sink == nil {
		sink = NewStdoutSink()
	}

	return &Context{
		enabled:    true,
		traceID:    traceID,
		requestID:  uuid.NewString(),
		workflowID: workflowID,
		tenantID:   tenantID,
		sink:       sink,
	}
}

// TraceID returns the context's trace identifier (empty when disabled).
func (c *Context) TraceID() string { return c.traceID }

// RequestID returns the context's request identifier (empty when disabled).
func (c *Context) RequestID() string { return c.requestID }

// Record appends a structured event. It never panics or returns an error:
// malformed field values are coerced to strings and a sanitized=true flag
// is added so downstream readers can tell the event was scrubbed.
func (c *Context) Record(operation Operation, success bool, latencyMs float64, fields map[string]any) {
	if !c.enabled {
		return
	}

	clean, sanitized := sanitizeFields(fields)
	if sanitized {
		clean["sanitized"] = true
	}

	event := Event{
		Timestamp:  time.Now().UTC(),
		TraceID:    c.traceID,
		RequestID:  c.requestID,
		WorkflowID: c.workflowID,
		TenantID:   c.tenantID,
		Operation:  operation,
		LatencyMs:  latencyMs,
		Success:    success,
		Fields:     clean,
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	_ = c.sink.Write(toLine(event))
}

// ChildFields returns the identity fields downstream components stamp onto
// their own operations. Returns an empty map when the context is disabled.
func (c *Context) ChildFields() map[string]string {
	if !c.enabled {
		return map[string]string{}
	}
	return map[string]string{
		"trace_id":    c.traceID,
		"request_id":  c.requestID,
		"workflow_id": c.workflowID,
		"tenant_id":   c.tenantID,
	}
}

// TraceMetadata returns the subset of identity fields safe to echo back in a
// response body, per include_trace_in_response.
func (c *Context) TraceMetadata() map[string]string {
	if !c.enabled {
		return map[string]string{}
	}
	return map[string]string{
		"trace_id":    c.traceID,
		"request_id":  c.requestID,
		"workflow_id": c.workflowID,
	}
}

// Close closes the sink when it has a Close method (releasing a FileSink's
// file handle). Every event was already written to the sink by its Record
// call, so there is nothing left to flush.
func (c *Context) Close() error {
	if !c.enabled {
		return nil
	}
	if closer, ok := c.sink.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Events returns a copy of the events recorded so far. Intended for tests
// and for callers that need to inspect what was emitted within one request.
func (c *Context) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func toLine(e Event) map[string]any {
	line := map[string]any{
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
		"trace_id":    e.TraceID,
		"request_id":  e.RequestID,
		"workflow_id": e.WorkflowID,
		"tenant_id":   e.TenantID,
		"operation":   string(e.Operation),
		"latency_ms":  e.LatencyMs,
		"success":     e.Success,
	}
	for k, v := range e.Fields {
		line[k] = v
	}
	return line
}

// sanitizeFields coerces non-JSON-friendly values to strings and strips any
// substring matching a provider secret pattern. Returns the cleaned map and
// whether anything was altered.
func sanitizeFields(fields map[string]any) (map[string]any, bool) {
	clean := make(map[string]any, len(fields))
	sanitized := false

	for k, v := range fields {
		switch val := v.(type) {
		case string:
			if secretPattern.MatchString(val) {
				clean[k] = secretPattern.ReplaceAllString(val, "[REDACTED]")
				sanitized = true
				continue
			}
			clean[k] = val
		case int, int64, float64, bool, nil:
			clean[k] = val
		default:
			clean[k] = fmt.Sprintf("%v", val)
			sanitized = true
		}
	}

	return clean, sanitized
}
