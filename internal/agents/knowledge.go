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

package agents

import (
	"context"
	"fmt"
	"strings"

	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
	"crisisintake/core/internal/retrieval"
)

// noSourceFoundAnswer is the literal phrase returned when retrieval
// yields zero citations; answering without sources is never attempted.
const noSourceFoundAnswer = "no authoritative source found"

// KnowledgeAgent answers policy questions strictly from retrieved snippets,
// citing each claim by source name and chunk id.
type KnowledgeAgent struct {
	gateway   *llm.Gateway
	retriever *retrieval.Service
}

// NewKnowledgeAgent constructs a KnowledgeAgent.
func NewKnowledgeAgent(gateway *llm.Gateway, retriever *retrieval.Service) *KnowledgeAgent {
	return &KnowledgeAgent{gateway: gateway, retriever: retriever}
}

func (a *KnowledgeAgent) Name() string { return "Knowledge" }

// Execute retrieves up to 5 citations above a 0.3 similarity threshold
// and asks the gateway to answer strictly from them. Zero citations
// short-circuits to the literal "no authoritative source found" answer
// rather than letting the model hallucinate.
func (a *KnowledgeAgent) Execute(ctx context.Context, question string, auditCtx *audit.Context) (*Result, error) {
	threshold := 0.3
	result, err := a.retriever.Search(ctx, question, 5, &threshold, auditCtx)
	if err != nil {
		return failure(errors.KindData, "agents.knowledge", "execute", "retrieval failed", err), nil
	}

	if len(result.Citations) == 0 {
		return success(map[string]any{"answer": noSourceFoundAnswer}, []retrieval.Citation{}, map[string]any{"n_citations": 0}), nil
	}

	resp, err := a.gateway.Invoke(ctx, llm.CompletionRequest{Prompt: a.buildPrompt(question, result.Citations)}, 0, auditCtx)
	if err != nil {
		return failure(errors.KindProviderTransient, "agents.knowledge", "execute", "answer generation failed", err), nil
	}

	return success(map[string]any{"answer": resp.Content}, result.Citations, map[string]any{"n_citations": len(result.Citations)}), nil
}

func (a *KnowledgeAgent) buildPrompt(question string, citations []retrieval.Citation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer strictly from the snippets below. Cite each claim by source_name and chunk_id. Question: %q\n\n", question)
	for _, c := range citations {
		fmt.Fprintf(&b, "[%s / %s]: %s\n\n", c.SourceName(), c.ChunkID(), c.Snippet())
	}
	return b.String()
}
