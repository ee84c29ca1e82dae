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
	"testing"

	"github.com/stretchr/testify/assert"

	"crisisintake/core/internal/agents"
	"crisisintake/core/internal/analyticsstore"
)

func TestInferFocusMatchesKeywords(t *testing.T) {
	assert.Equal(t, agents.FocusStaffing, inferFocus("do we need more staff on the night shift?"))
	assert.Equal(t, agents.FocusEquity, inferFocus("is there a disparity in response times across counties?"))
	assert.Equal(t, agents.FocusEfficiency, inferFocus("how can we speed up dispatch?"))
}

func TestWindowStatsFromQueryToleratesMissingFields(t *testing.T) {
	result := &agents.Result{
		Success: true,
		Data: map[string]any{
			"rows": []analyticsstore.Row{
				{"county": "king", "channel": "text", "risk_level": "high", "rate_current": 5.0, "rate_baseline": 2.0},
				{"county": "pierce"},
			},
		},
	}

	stats := windowStatsFromQuery(result)
	assert.Len(t, stats, 2)
	assert.Equal(t, "king", stats[0].County)
	assert.Equal(t, 5.0, stats[0].RateCurrent)
	assert.Equal(t, "pierce", stats[1].County)
	assert.Equal(t, 0.0, stats[1].RateCurrent)
}

func TestWindowStatsFromQueryReturnsNilOnFailedOrMissingResult(t *testing.T) {
	assert.Nil(t, windowStatsFromQuery(nil))
	assert.Nil(t, windowStatsFromQuery(&agents.Result{Success: false}))
	assert.Nil(t, windowStatsFromQuery(&agents.Result{Success: true, Data: "not a map"}))
}

func TestCandidatesFromQueryMapsRowFields(t *testing.T) {
	result := &agents.Result{
		Success: true,
		Data: map[string]any{
			"rows": []analyticsstore.Row{
				{"event_id": "evt-1", "risk_level": "imminent", "suicidal_ideation": true, "substance_use": 1, "minutes_since_event": 3.0},
			},
		},
	}

	candidates := candidatesFromQuery(result)
	require := assert.New(t)
	require.Len(candidates, 1)
	require.Equal("evt-1", candidates[0].EventID)
	require.True(candidates[0].SuicidalIdeation)
	require.True(candidates[0].SubstanceUse)
	require.Equal(3.0, candidates[0].MinutesSinceEvent)
}

func TestBoolFieldCoercesNumericTruthiness(t *testing.T) {
	row := analyticsstore.Row{"a": 1, "b": int64(0), "c": 2.5, "d": "not a bool"}
	assert.True(t, boolField(row, "a"))
	assert.False(t, boolField(row, "b"))
	assert.True(t, boolField(row, "c"))
	assert.False(t, boolField(row, "d"))
}

func TestFloatFieldCoercesNumericTypes(t *testing.T) {
	row := analyticsstore.Row{"a": 3, "b": int64(4), "c": 5.5, "d": "x"}
	assert.Equal(t, 3.0, floatField(row, "a"))
	assert.Equal(t, 4.0, floatField(row, "b"))
	assert.Equal(t, 5.5, floatField(row, "c"))
	assert.Equal(t, 0.0, floatField(row, "d"))
}
