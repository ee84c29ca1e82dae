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

package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisintake/core/internal/vectorindex"
)

// distanceFor inverts normalizeScore so a test can specify the similarity
// score it wants a hit to carry.
func distanceFor(score float64) float64 {
	return 2 * (1 - score)
}

func TestBuildCitationsOrdersByScoreThenSourceThenChunk(t *testing.T) {
	hits := []vectorindex.Hit{
		{ID: "A/2", Distance: distanceFor(0.8), Document: "a2"},
		{ID: "A/1", Distance: distanceFor(0.8), Document: "a1"},
		{ID: "B/1", Distance: distanceFor(0.9), Document: "b1"},
	}

	citations, raw := buildCitations(hits, nil)
	require.Len(t, citations, 3)
	require.Len(t, raw, 3)

	assert.Equal(t, "B", citations[0].SourceID())
	assert.Equal(t, "1", citations[0].ChunkID())
	assert.Equal(t, "A", citations[1].SourceID())
	assert.Equal(t, "1", citations[1].ChunkID())
	assert.Equal(t, "A", citations[2].SourceID())
	assert.Equal(t, "2", citations[2].ChunkID())
}

func TestBuildCitationsAppliesSimilarityThreshold(t *testing.T) {
	hits := []vectorindex.Hit{
		{ID: "A/1", Distance: distanceFor(0.9), Document: "keep"},
		{ID: "B/1", Distance: distanceFor(0.2), Document: "drop"},
	}
	threshold := 0.5

	citations, raw := buildCitations(hits, &threshold)
	require.Len(t, citations, 1)
	assert.Equal(t, "A", citations[0].SourceID())
	assert.Len(t, raw, 2, "raw hits are preserved even when filtered out of citations")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := NewService(nil, nil, 5)
	_, err := s.Search(context.Background(), "   ", 5, nil, nil)
	assert.Error(t, err)
}

func TestNormalizeScoreClampsToUnitRange(t *testing.T) {
	assert.Equal(t, 1.0, normalizeScore(-1))
	assert.Equal(t, 0.0, normalizeScore(3))
	assert.InDelta(t, 0.5, normalizeScore(1.0), 1e-9)
}

func TestSplitHitID(t *testing.T) {
	source, chunk := splitHitID("policy-manual/chunk-7")
	assert.Equal(t, "policy-manual", source)
	assert.Equal(t, "chunk-7", chunk)

	source, chunk = splitHitID("no-slash-id")
	assert.Equal(t, "no-slash-id", source)
	assert.Equal(t, "no-slash-id", chunk)
}
