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
	"encoding/json"
	"fmt"

	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
)

// FocusArea is the closed set of recommendation focus areas.
type FocusArea string

const (
	FocusStaffing   FocusArea = "staffing"
	FocusEquity     FocusArea = "equity"
	FocusEfficiency FocusArea = "efficiency"
)

// Recommendation is one entry in the Recommendations Agent's strict output
// schema.
type Recommendation struct {
	Recommendation  string   `json:"recommendation"`
	Rationale       string   `json:"rationale"`
	EvidenceRefs    []string `json:"evidence_refs"`
	EstimatedEffort string   `json:"estimated_effort"`
}

func (r Recommendation) valid() bool {
	if r.Recommendation == "" || r.Rationale == "" {
		return false
	}
	switch r.EstimatedEffort {
	case "low", "medium", "high":
		return true
	default:
		return false
	}
}

// RecommendationsAgent generates 5-7 schema-validated recommendations for a
// focus area, drawing on Query/Analytics agent outputs as supporting
// evidence.
type RecommendationsAgent struct {
	gateway *llm.Gateway
}

// NewRecommendationsAgent constructs a RecommendationsAgent.
func NewRecommendationsAgent(gateway *llm.Gateway) *RecommendationsAgent {
	return &RecommendationsAgent{gateway: gateway}
}

func (a *RecommendationsAgent) Name() string { return "Recommendations" }

// Execute asks the gateway for recommendations grounded in queryData and
// analyticsData, retrying once with a correction prompt if the response
// fails schema validation; a second failure returns the raw text with
// success=false and a schema_violation error.
func (a *RecommendationsAgent) Execute(ctx context.Context, focus FocusArea, window string, queryData, analyticsData any, auditCtx *audit.Context) (*Result, error) {
	prompt := a.buildPrompt(focus, window, queryData, analyticsData, "")

	resp, err := a.gateway.Invoke(ctx, llm.CompletionRequest{Prompt: prompt}, 0, auditCtx)
	if err != nil {
		return failure(errors.KindProviderTransient, "agents.recommendations", "execute", "generation failed", err), nil
	}

	recs, ok := parseRecommendations(resp.Content)
	if !ok {
		correction := a.buildPrompt(focus, window, queryData, analyticsData,
			fmt.Sprintf("The previous response did not match the required JSON array schema. Raw response: %s", resp.Content))

		resp2, err2 := a.gateway.Invoke(ctx, llm.CompletionRequest{Prompt: correction}, 0, auditCtx)
		if err2 != nil {
			return failure(errors.KindSchemaViolation, "agents.recommendations", "execute", "schema correction call failed", err2), nil
		}

		recs, ok = parseRecommendations(resp2.Content)
		if !ok {
			return &Result{
				Success: false,
				Data:    map[string]any{"raw": resp2.Content},
				Error:   errors.New(errors.KindSchemaViolation, "agents.recommendations", "execute", "output did not conform to schema after one correction attempt", nil),
			}, nil
		}
	}

	return success(map[string]any{"focus": focus, "window": window, "recommendations": recs}, nil,
		map[string]any{"count": len(recs)}), nil
}

func (a *RecommendationsAgent) buildPrompt(focus FocusArea, window string, queryData, analyticsData any, correction string) string {
	prompt := fmt.Sprintf("Produce 5-7 %s recommendations for the window %q as a JSON array of objects with fields "+
		"{recommendation, rationale, evidence_refs: [string], estimated_effort: \"low\"|\"medium\"|\"high\"}.\n", focus, window)
	prompt += fmt.Sprintf("Query evidence: %v\nAnalytics evidence: %v\n", queryData, analyticsData)
	if correction != "" {
		prompt += correction + "\n"
	}
	return prompt
}

// parseRecommendations decodes content as a JSON array of Recommendation and
// validates the 5-7 count and per-item required fields.
func parseRecommendations(content string) ([]Recommendation, bool) {
	var recs []Recommendation
	if err := json.Unmarshal([]byte(content), &recs); err != nil {
		return nil, false
	}
	if len(recs) < 5 || len(recs) > 7 {
		return nil, false
	}
	for _, r := range recs {
		if !r.valid() {
			return nil, false
		}
	}
	return recs, true
}
