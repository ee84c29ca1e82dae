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

// Package agents implements the five specialist reasoning roles:
// Query, Analytics, Triage, Recommendations, and Knowledge. Each agent
// shares the Agent contract — Execute(ctx, input, auditCtx) (*Result, error)
// — and composes the Model Gateway and, where relevant, the Retrieval
// Service. Agents never log, never call a model provider directly, and
// never construct a retrieval.Citation from scratch. Each role carries
// its own typed input rather than a generic step payload, one role per
// agent instead of one generic step interpreter.
package agents

import (
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/retrieval"
)

// Agent is the shared contract every specialist role implements.
type Agent interface {
	// Name identifies the agent for the orchestrator's used_agents list.
	Name() string
}

// Result is the uniform output envelope every agent returns.
type Result struct {
	Data     any                  `json:"data"`
	Sources  []retrieval.Citation `json:"sources"`
	Metadata map[string]any       `json:"metadata"`
	Success  bool                 `json:"success"`
	Error    *errors.Error        `json:"error,omitempty"`
}

// failure builds a Result carrying a classified error; agent failures
// cross the orchestrator boundary as data, never as a raised error.
func failure(kind errors.Kind, component, op, message string, cause error) *Result {
	return &Result{
		Success: false,
		Error:   errors.New(kind, component, op, message, cause),
	}
}

// success builds a Result carrying data, sources, and metadata.
func success(data any, sources []retrieval.Citation, metadata map[string]any) *Result {
	if sources == nil {
		sources = []retrieval.Citation{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Result{Data: data, Sources: sources, Metadata: metadata, Success: true}
}
