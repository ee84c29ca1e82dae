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

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisintake/core/internal/retrieval"
	"crisisintake/core/internal/vectorindex"
)

func TestKnowledgeExecuteFallsBackWhenNoCitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	index := vectorindex.NewWithDB(db)
	mock.ExpectQuery("SELECT source_id, chunk_id, document, metadata").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "chunk_id", "document", "metadata", "distance"}))

	gateway := newFakeGateway("should not be invoked")
	retriever := retrieval.NewService(index, gateway, 5)
	agent := NewKnowledgeAgent(gateway, retriever)

	res, err := agent.Execute(context.Background(), "what is the walk-in policy?", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, noSourceFoundAnswer, data["answer"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeExecuteAnswersFromCitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	index := vectorindex.NewWithDB(db)
	mock.ExpectQuery("SELECT source_id, chunk_id, document, metadata").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "chunk_id", "document", "metadata", "distance"}).
			AddRow("policy-manual", "chunk-4", "walk-ins are accepted during business hours", []byte(`{"source_name":"Policy Manual"}`), 0.1))

	gateway := newFakeGateway("walk-ins are accepted during business hours [Policy Manual / chunk-4]")
	retriever := retrieval.NewService(index, gateway, 5)
	agent := NewKnowledgeAgent(gateway, retriever)

	res, err := agent.Execute(context.Background(), "are walk-ins accepted?", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Contains(t, data["answer"], "Policy Manual")
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "policy-manual", res.Sources[0].SourceID())
}

func TestKnowledgeBuildPromptCitesSourceAndChunk(t *testing.T) {
	agent := NewKnowledgeAgent(nil, nil)
	citation := retrieval.New("policy-manual", "Policy Manual", "uri", "chunk-4", "walk-ins accepted", 0.9, nil)

	prompt := agent.buildPrompt("are walk-ins accepted?", []retrieval.Citation{citation})
	assert.Contains(t, prompt, "Policy Manual / chunk-4")
	assert.Contains(t, prompt, "walk-ins accepted")
}
