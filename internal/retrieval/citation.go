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

// Package retrieval implements the canonical retrieval unit (Citation)
// and the Retrieval Service singleton: a thin wrapper over
// internal/vectorindex that returns ordered, deduplicated-identity
// citations plus raw hits, with an optional Redis-backed TTL cache.
package retrieval

import (
	"encoding/json"
	"fmt"
)

// Citation is the canonical retrieval result unit. Instances are immutable
// after construction — every field is set once by New and never mutated.
type Citation struct {
	sourceID   string
	sourceName string
	docURI     string
	chunkID    string
	snippet    string
	score      float64
	metadata   map[string]any
}

// New constructs a Citation, clamping score into [0,1]
// (the caller — the vector index normalizer — is expected to have
// already done this; clamping here is a last-resort guard, never silently
// widening the contract).
func New(sourceID, sourceName, docURI, chunkID, snippet string, score float64, metadata map[string]any) Citation {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Citation{
		sourceID:   sourceID,
		sourceName: sourceName,
		docURI:     docURI,
		chunkID:    chunkID,
		snippet:    snippet,
		score:      score,
		metadata:   metadata,
	}
}

func (c Citation) SourceID() string         { return c.sourceID }
func (c Citation) SourceName() string       { return c.sourceName }
func (c Citation) DocURI() string           { return c.docURI }
func (c Citation) ChunkID() string          { return c.chunkID }
func (c Citation) Snippet() string          { return c.snippet }
func (c Citation) Score() float64           { return c.score }
func (c Citation) Metadata() map[string]any { return c.metadata }

// IdentityKey returns the {source_id, chunk_id} pair that must be unique
// within a single retrieval result.
func (c Citation) IdentityKey() string {
	return c.sourceID + "\x00" + c.chunkID
}

type citationJSON struct {
	SourceID   string         `json:"source_id"`
	SourceName string         `json:"source_name"`
	DocURI     string         `json:"doc_uri"`
	ChunkID    string         `json:"chunk_id"`
	Snippet    string         `json:"snippet"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata"`
}

// MarshalJSON renders the citation as a JSON object that UnmarshalJSON
// reconstructs exactly.
func (c Citation) MarshalJSON() ([]byte, error) {
	return json.Marshal(citationJSON{
		SourceID:   c.sourceID,
		SourceName: c.sourceName,
		DocURI:     c.docURI,
		ChunkID:    c.chunkID,
		Snippet:    c.snippet,
		Score:      c.score,
		Metadata:   c.metadata,
	})
}

// UnmarshalJSON restores a Citation from its JSON form.
func (c *Citation) UnmarshalJSON(data []byte) error {
	var j citationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("retrieval: unmarshal citation: %w", err)
	}
	*c = New(j.SourceID, j.SourceName, j.DocURI, j.ChunkID, j.Snippet, j.Score, j.Metadata)
	return nil
}

// RawHit is the unnormalized index hit carried alongside the canonical
// Citations, for callers that need the original distance or metadata.
type RawHit struct {
	ID       string
	Distance float64
}

// Result is an ordered RetrievalResult: descending-score Citations plus the
// raw hits they were built from and the retrieval metadata the audit
// event reports.
type Result struct {
	Citations []Citation
	Raw       []RawHit

	QueryLength int
	NResults    int
	Strategy    string
	CacheHit    bool
	LatencyMs   float64
}
