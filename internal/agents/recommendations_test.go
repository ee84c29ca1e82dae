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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRecsJSON = `[
	{"recommendation": "Add evening staffing", "rationale": "surge observed after 6pm", "evidence_refs": ["evt-1"], "estimated_effort": "medium"},
	{"recommendation": "Cross-train dispatchers", "rationale": "reduce single point of failure", "evidence_refs": ["evt-2"], "estimated_effort": "low"},
	{"recommendation": "Audit rural response times", "rationale": "equity gap in rural counties", "evidence_refs": ["evt-3"], "estimated_effort": "high"},
	{"recommendation": "Expand mobile team coverage", "rationale": "imminent-risk dispatch delays", "evidence_refs": ["evt-4"], "estimated_effort": "medium"},
	{"recommendation": "Review substance-use protocol", "rationale": "co-occurring substance use trend", "evidence_refs": ["evt-5"], "estimated_effort": "low"}
]`

func TestParseRecommendationsAcceptsValidSchema(t *testing.T) {
	recs, ok := parseRecommendations(validRecsJSON)
	require.True(t, ok)
	assert.Len(t, recs, 5)
}

func TestParseRecommendationsRejectsWrongCount(t *testing.T) {
	_, ok := parseRecommendations(`[{"recommendation": "x", "rationale": "y", "estimated_effort": "low"}]`)
	assert.False(t, ok)
}

func TestParseRecommendationsRejectsInvalidEffort(t *testing.T) {
	_, ok := parseRecommendations(`[
		{"recommendation": "a", "rationale": "b", "estimated_effort": "urgent"},
		{"recommendation": "a", "rationale": "b", "estimated_effort": "low"},
		{"recommendation": "a", "rationale": "b", "estimated_effort": "low"},
		{"recommendation": "a", "rationale": "b", "estimated_effort": "low"},
		{"recommendation": "a", "rationale": "b", "estimated_effort": "low"}
	]`)
	assert.False(t, ok)
}

func TestParseRecommendationsRejectsMalformedJSON(t *testing.T) {
	_, ok := parseRecommendations("not json at all")
	assert.False(t, ok)
}

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	a := NewRecommendationsAgent(newFakeGateway(validRecsJSON))

	res, err := a.Execute(context.Background(), FocusStaffing, "last 7 days", nil, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	recs := data["recommendations"].([]Recommendation)
	assert.Len(t, recs, 5)
}

func TestExecuteRetriesOnceThenSucceeds(t *testing.T) {
	a := NewRecommendationsAgent(newFakeGateway("not valid json", validRecsJSON))

	res, err := a.Execute(context.Background(), FocusEquity, "last 24 hours", nil, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestExecuteFailsClosedAfterTwoBadAttempts(t *testing.T) {
	a := NewRecommendationsAgent(newFakeGateway("still not valid"))

	res, err := a.Execute(context.Background(), FocusEfficiency, "last hour", nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotNil(t, res.Error)
}
