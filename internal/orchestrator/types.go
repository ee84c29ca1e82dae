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

// Package orchestrator implements the five-state request machine
// (START→CLASSIFY→DISPATCH→SYNTHESIZE→DONE): it owns the request's
// Audit Context, classifies intent through the Model Gateway, dispatches
// one or more specialist agents, and composes a synthesized
// ResponseEnvelope. The states and transitions are explicit — a fixed
// enum and switch, not a general graph framework.
package orchestrator

import (
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/retrieval"
)

// State is one node of the request state machine.
type State string

const (
	StateStart      State = "START"
	StateClassify   State = "CLASSIFY"
	StateDispatch   State = "DISPATCH"
	StateSynthesize State = "SYNTHESIZE"
	StateDone       State = "DONE"
)

// Intent is the closed set of classification labels.
type Intent string

const (
	IntentDataQuery       Intent = "data_query"
	IntentAnalytics       Intent = "analytics"
	IntentTriage          Intent = "triage"
	IntentRecommendations Intent = "recommendations"
	IntentPolicyQuestion  Intent = "policy_question"
	IntentUnknown         Intent = "unknown"
)

// unknownConfidenceFloor is the confidence threshold below which the
// orchestrator falls back to the Knowledge Agent regardless of the
// classified label.
const unknownConfidenceFloor = 0.3

// TraceMetadata is the subset of identity fields optionally echoed in a
// response body.
type TraceMetadata struct {
	TraceID    string `json:"trace_id"`
	RequestID  string `json:"request_id"`
	WorkflowID string `json:"workflow_id"`
}

// EnvelopeError is the classified error carried by a failed ResponseEnvelope.
type EnvelopeError struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

// ResponseEnvelope is the JSON-serializable response returned to the
// caller of ProcessRequest.
type ResponseEnvelope struct {
	Success    bool                 `json:"success"`
	AnswerText string               `json:"answer_text,omitempty"`
	Data       any                  `json:"data,omitempty"`
	Sources    []retrieval.Citation `json:"sources"`
	UsedAgents []string             `json:"used_agents"`
	Partial    bool                 `json:"partial"`
	Error      *EnvelopeError       `json:"error,omitempty"`
	Trace      *TraceMetadata       `json:"trace,omitempty"`
}
