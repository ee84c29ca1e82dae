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
	"time"

	"crisisintake/core/internal/analyticsstore"
	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
)

// defaultWindow and defaultLimit are the Query Agent's numeric policy
// defaults: unstated time windows cover the last hour, and every
// non-aggregate query gets a LIMIT.
const (
	defaultWindow = 60 * time.Minute
	defaultLimit  = 100
)

// QueryAgent answers natural-language questions over the analytics store by
// generating SQL through the gateway and executing it, with one
// self-correction attempt on failure.
type QueryAgent struct {
	gateway *llm.Gateway
	store   *analyticsstore.Store
	schema  analyticsstore.Schema
}

// NewQueryAgent constructs a QueryAgent bound to schema.
func NewQueryAgent(gateway *llm.Gateway, store *analyticsstore.Store, schema analyticsstore.Schema) *QueryAgent {
	return &QueryAgent{gateway: gateway, store: store, schema: schema}
}

func (a *QueryAgent) Name() string { return "Query" }

// Execute generates and runs one SQL statement for question, retrying the
// generation once (with the execution error fed back) if the first
// statement fails to execute.
func (a *QueryAgent) Execute(ctx context.Context, question string, auditCtx *audit.Context) (*Result, error) {
	if a.store == nil {
		return failure(errors.KindData, "agents.query", "execute", "analytics store unavailable", nil), nil
	}

	sqlText, err := a.generate(ctx, question, "", auditCtx)
	if err != nil {
		return failure(errors.KindProviderFatal, "agents.query", "execute", "SQL generation failed", err), nil
	}

	rows, execErr := a.store.Execute(ctx, sqlText, 0)
	if execErr != nil {
		refined, genErr := a.generate(ctx, question, execErr.Error(), auditCtx)
		if genErr != nil {
			return failure(errors.KindData, "agents.query", "execute", "query execution failed and refinement could not be generated", execErr), nil
		}

		rows, execErr = a.store.Execute(ctx, refined, 0)
		if execErr != nil {
			return failure(errors.KindData, "agents.query", "execute", "query execution failed after one refinement attempt: "+execErr.Error(), execErr), nil
		}
		sqlText = refined
	}

	summary := summarize(rows)
	return success(map[string]any{
		"sql":     sqlText,
		"rows":    rows,
		"summary": summary,
	}, nil, map[string]any{"row_count": len(rows)}), nil
}

// generate asks the gateway for one SQL statement. When priorError is
// non-empty this is a refinement attempt: the failing SQL's error is fed
// back into a fix-this-query prompt.
func (a *QueryAgent) generate(ctx context.Context, question, priorError string, auditCtx *audit.Context) (string, error) {
	prompt := a.buildPrompt(question, priorError)

	resp, err := a.gateway.Invoke(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0,
	}, 0, auditCtx)
	if err != nil {
		return "", err
	}

	return extractSQL(resp.Content), nil
}

func (a *QueryAgent) buildPrompt(question, priorError string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate one SQL statement against %s to answer: %q\n", a.schema.Describe(), question)
	fmt.Fprintf(&b, "Default the time window to the last %d minutes when none is stated.\n", int(defaultWindow.Minutes()))
	fmt.Fprintf(&b, "Apply LIMIT %d unless the question asks for a single aggregate value.\n", defaultLimit)
	if priorError != "" {
		fmt.Fprintf(&b, "The previous attempt failed with: %s. Fix this query.\n", priorError)
	}
	return b.String()
}

// extractSQL trims surrounding markdown fences a model sometimes wraps SQL
// in, leaving the bare statement.
func extractSQL(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// summarize renders a terse natural-language summary of rows, used as the
// agent's data.summary field so a caller isn't forced to interpret raw rows.
func summarize(rows []analyticsstore.Row) string {
	if len(rows) == 0 {
		return "no matching events found"
	}
	if len(rows) == 1 {
		for _, v := range rows[0] {
			return fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%d matching events", len(rows))
}
