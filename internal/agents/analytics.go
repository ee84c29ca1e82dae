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

	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
)

// DefaultSurgeMultiplier and DefaultMinAbsoluteRate are the surge-detection
// defaults, centralized here next to the function that
// uses them rather than duplicated per caller (config.Config carries the
// operator-facing override, surfaced as Config.SurgeMultiplier/
// Config.MinAbsoluteRate).
const (
	DefaultSurgeMultiplier = 1.5
	DefaultMinAbsoluteRate = 2.0
)

// WindowStat is one county/channel/risk_level's current-vs-baseline rate.
type WindowStat struct {
	County       string  `json:"county"`
	Channel      string  `json:"channel"`
	RiskLevel    string  `json:"risk_level"`
	RateCurrent  float64 `json:"rate_current"`
	RateBaseline float64 `json:"rate_baseline"`
	Surge        bool    `json:"surge"`
}

// AnalyticsAgent computes windowed surge detection and an LLM interpretation
// of the results.
type AnalyticsAgent struct {
	gateway         *llm.Gateway
	surgeMultiplier float64
	minAbsoluteRate float64
}

// NewAnalyticsAgent constructs an AnalyticsAgent with the configured surge
// thresholds. Pass DefaultSurgeMultiplier/DefaultMinAbsoluteRate when no
// operator override applies.
func NewAnalyticsAgent(gateway *llm.Gateway, surgeMultiplier, minAbsoluteRate float64) *AnalyticsAgent {
	if surgeMultiplier <= 0 {
		surgeMultiplier = DefaultSurgeMultiplier
	}
	if minAbsoluteRate <= 0 {
		minAbsoluteRate = DefaultMinAbsoluteRate
	}
	return &AnalyticsAgent{gateway: gateway, surgeMultiplier: surgeMultiplier, minAbsoluteRate: minAbsoluteRate}
}

func (a *AnalyticsAgent) Name() string { return "Analytics" }

// DetectSurge reports whether current vs. baseline events-per-minute
// constitutes a surge:
// rate_current >= surge_multiplier * rate_baseline AND
// rate_current >= min_absolute_rate.
func (a *AnalyticsAgent) DetectSurge(rateCurrent, rateBaseline float64) bool {
	return rateCurrent >= a.surgeMultiplier*rateBaseline && rateCurrent >= a.minAbsoluteRate
}

// Execute evaluates each stat for a surge and asks the gateway for a short
// interpretation, explicitly marked as model commentary so it is never
// presented as a primary fact.
func (a *AnalyticsAgent) Execute(ctx context.Context, stats []WindowStat, auditCtx *audit.Context) (*Result, error) {
	surges := make([]WindowStat, 0, len(stats))
	for i := range stats {
		stats[i].Surge = a.DetectSurge(stats[i].RateCurrent, stats[i].RateBaseline)
		if stats[i].Surge {
			surges = append(surges, stats[i])
		}
	}

	interpretation := "no surges detected in the current window"
	if len(surges) > 0 {
		resp, err := a.gateway.Invoke(ctx, llm.CompletionRequest{
			Prompt: a.buildPrompt(surges),
		}, 0, auditCtx)
		if err != nil {
			return failure(errors.KindProviderTransient, "agents.analytics", "execute", "interpretation generation failed", err), nil
		}
		interpretation = resp.Content
	}

	return success(map[string]any{
		"stats":          stats,
		"surges":         surges,
		"interpretation": interpretation,
		// True only when the gateway path actually ran; the no-surge
		// placeholder is fixed text, not model commentary.
		"interpretation_is_llm": len(surges) > 0,
	}, nil, map[string]any{"surge_count": len(surges)}), nil
}

func (a *AnalyticsAgent) buildPrompt(surges []WindowStat) string {
	prompt := fmt.Sprintf("Interpret %d county/channel/risk-level surges (current rate >= %.1fx baseline, >= %.1f events/min). "+
		"Be terse and note this is an interpretation, not a verified fact:\n", len(surges), a.surgeMultiplier, a.minAbsoluteRate)
	for _, s := range surges {
		prompt += fmt.Sprintf("- %s/%s/%s: %.2f/min vs baseline %.2f/min\n", s.County, s.Channel, s.RiskLevel, s.RateCurrent, s.RateBaseline)
	}
	return prompt
}
