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
	"encoding/json"
	"fmt"
	"strings"

	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/llm"
)

// classificationResult is the strict JSON shape the classification prompt
// asks the gateway for.
type classificationResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

var validIntents = map[string]Intent{
	"data_query":      IntentDataQuery,
	"analytics":       IntentAnalytics,
	"triage":          IntentTriage,
	"recommendations": IntentRecommendations,
	"policy_question": IntentPolicyQuestion,
	"unknown":         IntentUnknown,
}

// classify makes a single gateway call mapping query onto a closed intent
// label plus a confidence.
func (o *Orchestrator) classify(ctx context.Context, query string, auditCtx *audit.Context) (Intent, float64, error) {
	resp, err := o.gateway.Invoke(ctx, llm.CompletionRequest{
		Prompt: classifyPrompt(query),
	}, 0, auditCtx)
	if err != nil {
		return IntentUnknown, 0, err
	}

	intent, confidence := parseClassification(resp.Content)
	return intent, confidence, nil
}

func classifyPrompt(query string) string {
	return fmt.Sprintf(
		"Classify this request into exactly one of "+
			"{data_query, analytics, triage, recommendations, policy_question, unknown} "+
			"and give a confidence in [0,1]. Respond as JSON {\"intent\":...,\"confidence\":...}. Request: %q",
		query)
}

// parseClassification decodes the gateway's JSON response, falling back to
// (unknown, 0) for anything that doesn't parse or name a recognized label —
// the orchestrator's fallback rule treats both cases identically.
func parseClassification(content string) (Intent, float64) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	var cr classificationResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &cr); err != nil {
		return IntentUnknown, 0
	}

	intent, ok := validIntents[strings.ToLower(cr.Intent)]
	if !ok {
		return IntentUnknown, 0
	}
	return intent, cr.Confidence
}

// shouldFallbackToKnowledge reports whether the classified intent/confidence
// should route to the Knowledge Agent regardless of label.
func shouldFallbackToKnowledge(intent Intent, confidence float64) bool {
	return intent == IntentUnknown || confidence < unknownConfidenceFloor
}
