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
	"sort"

	"crisisintake/core/internal/audit"
)

// RecommendedAction is the closed vocabulary of per-candidate actions.
type RecommendedAction string

const (
	ActionDispatchMobileTeam    RecommendedAction = "dispatch_mobile_team"
	ActionLawEnforcementAssist  RecommendedAction = "law_enforcement_assist"
	ActionPsychiatricEvaluation RecommendedAction = "psychiatric_evaluation"
	ActionFollowUpContact       RecommendedAction = "follow_up_contact"
	ActionNoAction              RecommendedAction = "no_action"
)

// Candidate is one event under triage consideration.
type Candidate struct {
	EventID           string
	RiskLevel         string
	SuicidalIdeation  bool
	HomicidalIdeation bool
	SubstanceUse      bool
	MinutesSinceEvent float64
}

// ScoredCandidate is a Candidate after scoring, ready to sort and render.
type ScoredCandidate struct {
	Candidate
	Score             float64           `json:"score"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}

// TriageAgent ranks high-risk candidates by a pure, deterministic scoring
// function; identical inputs always yield identical scores.
type TriageAgent struct{}

// NewTriageAgent constructs a TriageAgent. It holds no state: scoring is a
// pure function of its inputs.
func NewTriageAgent() *TriageAgent { return &TriageAgent{} }

func (a *TriageAgent) Name() string { return "Triage" }

// Score computes the deterministic triage score:
//
//	score = risk_base + ideation_adders + substance_adder + recency_factor
//	risk_base        = 100 if imminent, 50 if high, else 0
//	ideation_adders  = 30*suicidal + 40*homicidal
//	substance_adder  = 10*substance_use
//	recency_factor   = max(0, 20 - minutes_since_event/3)
func Score(c Candidate) float64 {
	riskBase := 0.0
	switch c.RiskLevel {
	case "imminent":
		riskBase = 100
	case "high":
		riskBase = 50
	}

	ideation := 0.0
	if c.SuicidalIdeation {
		ideation += 30
	}
	if c.HomicidalIdeation {
		ideation += 40
	}

	substance := 0.0
	if c.SubstanceUse {
		substance = 10
	}

	recency := 20 - c.MinutesSinceEvent/3
	if recency < 0 {
		recency = 0
	}

	return riskBase + ideation + substance + recency
}

// recommend maps a scored candidate onto the closed action vocabulary.
// Homicidal ideation at imminent risk escalates past the standard mobile
// dispatch to a law-enforcement-assisted response; otherwise risk level and
// score drive the remaining tiers.
func recommend(c Candidate, score float64) RecommendedAction {
	switch {
	case c.RiskLevel == "imminent" && c.HomicidalIdeation:
		return ActionLawEnforcementAssist
	case c.RiskLevel == "imminent":
		return ActionDispatchMobileTeam
	case c.RiskLevel == "high" && (c.SuicidalIdeation || c.HomicidalIdeation):
		return ActionPsychiatricEvaluation
	case score >= 40:
		return ActionFollowUpContact
	default:
		return ActionNoAction
	}
}

// Execute ranks candidates descending by score, ties broken by newer-first
// (smaller MinutesSinceEvent), then by smaller event_id lexicographically.
func (a *TriageAgent) Execute(ctx context.Context, candidates []Candidate, auditCtx *audit.Context) (*Result, error) {
	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		s := Score(c)
		scored[i] = ScoredCandidate{Candidate: c, Score: s, RecommendedAction: recommend(c, s)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].MinutesSinceEvent != scored[j].MinutesSinceEvent {
			return scored[i].MinutesSinceEvent < scored[j].MinutesSinceEvent
		}
		return scored[i].EventID < scored[j].EventID
	})

	return success(map[string]any{"ranked": scored}, nil, map[string]any{"candidate_count": len(scored)}), nil
}
