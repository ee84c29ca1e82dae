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
	"strings"
	"time"

	"crisisintake/core/internal/agents"
	"crisisintake/core/internal/analyticsstore"
	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/metrics"
)

// outcome is one dispatched agent's contribution to the response, whether
// it succeeded or failed.
type outcome struct {
	agentName string
	result    *agents.Result
}

// dispatch routes query to the agent(s) mapped to the classified intent.
// Independent agents could run concurrently; Recommendations
// genuinely depends on Analytics and Query's output so that chain runs
// sequentially.
func (o *Orchestrator) dispatch(ctx context.Context, intent Intent, query string, auditCtx *audit.Context) []outcome {
	switch intent {
	case IntentDataQuery:
		return []outcome{o.runQuery(ctx, query, auditCtx)}

	case IntentAnalytics:
		queryOut := o.runQuery(ctx, query, auditCtx)
		analyticsOut := o.runAnalyticsFrom(ctx, queryOut, auditCtx)
		return []outcome{queryOut, analyticsOut}

	case IntentTriage:
		return []outcome{o.runTriageFrom(ctx, o.runQuery(ctx, query, auditCtx), auditCtx)}

	case IntentRecommendations:
		queryOut := o.runQuery(ctx, query, auditCtx)
		analyticsOut := o.runAnalyticsFrom(ctx, queryOut, auditCtx)
		recsOut := o.runRecommendations(ctx, query, queryOut, analyticsOut, auditCtx)
		return []outcome{queryOut, analyticsOut, recsOut}

	case IntentPolicyQuestion, IntentUnknown:
		return []outcome{o.runKnowledge(ctx, query, auditCtx)}

	default:
		return []outcome{o.runKnowledge(ctx, query, auditCtx)}
	}
}

// agentStep records the agent_step audit event around an agent call,
// timing it from the caller's perspective rather than relying on the agent
// itself to know about auditing (agents never log).
func agentStep(auditCtx *audit.Context, name string, fn func() *agents.Result) outcome {
	start := time.Now()
	res := fn()
	success := res != nil && res.Success
	if auditCtx != nil {
		auditCtx.Record(audit.OpAgentStep, success, float64(time.Since(start))/float64(time.Millisecond), map[string]any{
			"agent": name,
		})
	}
	metrics.AgentStepsTotal.WithLabelValues(name, metrics.BoolLabel(success)).Inc()
	return outcome{agentName: name, result: res}
}

func (o *Orchestrator) runQuery(ctx context.Context, query string, auditCtx *audit.Context) outcome {
	return agentStep(auditCtx, o.queryAgent.Name(), func() *agents.Result {
		res, _ := o.queryAgent.Execute(ctx, query, auditCtx)
		return res
	})
}

func (o *Orchestrator) runKnowledge(ctx context.Context, query string, auditCtx *audit.Context) outcome {
	return agentStep(auditCtx, o.knowledgeAgent.Name(), func() *agents.Result {
		res, _ := o.knowledgeAgent.Execute(ctx, query, auditCtx)
		return res
	})
}

func (o *Orchestrator) runAnalyticsFrom(ctx context.Context, queryOut outcome, auditCtx *audit.Context) outcome {
	stats := windowStatsFromQuery(queryOut.result)
	return agentStep(auditCtx, o.analyticsAgent.Name(), func() *agents.Result {
		res, _ := o.analyticsAgent.Execute(ctx, stats, auditCtx)
		return res
	})
}

func (o *Orchestrator) runTriageFrom(ctx context.Context, queryOut outcome, auditCtx *audit.Context) outcome {
	candidates := candidatesFromQuery(queryOut.result)
	return agentStep(auditCtx, o.triageAgent.Name(), func() *agents.Result {
		res, _ := o.triageAgent.Execute(ctx, candidates, auditCtx)
		return res
	})
}

func (o *Orchestrator) runRecommendations(ctx context.Context, query string, queryOut, analyticsOut outcome, auditCtx *audit.Context) outcome {
	focus := inferFocus(query)
	var queryData, analyticsData any
	if queryOut.result != nil {
		queryData = queryOut.result.Data
	}
	if analyticsOut.result != nil {
		analyticsData = analyticsOut.result.Data
	}
	return agentStep(auditCtx, o.recommendationsAgent.Name(), func() *agents.Result {
		res, _ := o.recommendationsAgent.Execute(ctx, focus, "current window", queryData, analyticsData, auditCtx)
		return res
	})
}

// inferFocus picks a recommendations focus area from keywords in the
// request text, defaulting to efficiency when none match.
func inferFocus(query string) agents.FocusArea {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "staff", "headcount", "shift"):
		return agents.FocusStaffing
	case containsAny(lower, "equity", "disparit", "fair"):
		return agents.FocusEquity
	default:
		return agents.FocusEfficiency
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// windowStatsFromQuery adapts the Query Agent's raw analytics rows into the
// Analytics Agent's WindowStat input. The streaming ingest pipeline and its
// exact row shape live outside this process, so this mapping
// tolerates missing fields rather than failing the whole request.
func windowStatsFromQuery(queryResult *agents.Result) []agents.WindowStat {
	if queryResult == nil || !queryResult.Success {
		return nil
	}
	data, ok := queryResult.Data.(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := data["rows"].([]analyticsstore.Row)
	if !ok {
		return nil
	}

	stats := make([]agents.WindowStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, agents.WindowStat{
			County:       stringField(row, "county"),
			Channel:      stringField(row, "channel"),
			RiskLevel:    stringField(row, "risk_level"),
			RateCurrent:  floatField(row, "rate_current"),
			RateBaseline: floatField(row, "rate_baseline"),
		})
	}
	return stats
}

// candidatesFromQuery adapts raw analytics rows into Triage candidates,
// same tolerant-mapping rationale as windowStatsFromQuery.
func candidatesFromQuery(queryResult *agents.Result) []agents.Candidate {
	if queryResult == nil || !queryResult.Success {
		return nil
	}
	data, ok := queryResult.Data.(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := data["rows"].([]analyticsstore.Row)
	if !ok {
		return nil
	}

	candidates := make([]agents.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, agents.Candidate{
			EventID:           stringField(row, "event_id"),
			RiskLevel:         stringField(row, "risk_level"),
			SuicidalIdeation:  boolField(row, "suicidal_ideation"),
			HomicidalIdeation: boolField(row, "homicidal_ideation"),
			SubstanceUse:      boolField(row, "substance_use"),
			MinutesSinceEvent: floatField(row, "minutes_since_event"),
		})
	}
	return candidates
}

func stringField(row analyticsstore.Row, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func floatField(row analyticsstore.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func boolField(row analyticsstore.Row, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return false
	}
}
