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

// Package knowledge implements the idempotent policy/statute ingestion
// job: chunk, embed via the Model Gateway, and upsert into the vector
// index with stable {source_id, chunk_id} identity so re-running the job
// replaces rather than duplicates chunks. The chunker is a
// deterministic, dependency-free pure function: same input and same
// ChunkerVersion always produce the same chunk ids.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"crisisintake/core/internal/llm"
	"crisisintake/core/internal/vectorindex"
)

// Document is one policy/statute source to ingest.
type Document struct {
	SourceID   string
	SourceName string
	DocURI     string
	Text       string
	Metadata   map[string]any
}

// ChunkerVersion is bumped whenever chunk boundaries change in a way that
// would alter the chunk_ids produced for existing documents. The same
// input and the same chunker version always yield the same ids.
const ChunkerVersion = "v1"

// chunkSize and chunkOverlap live next to the chunker rather than in
// config; changing either changes every chunk id, which is a
// ChunkerVersion bump, not a tuning knob.
const (
	chunkSize    = 800
	chunkOverlap = 100
)

// Chunk is one deterministically-bounded slice of a Document's text.
type Chunk struct {
	ChunkID string
	Text    string
	Index   int
}

// ChunkText splits text into overlapping, fixed-size chunks on rune
// boundaries. Given the same text and ChunkerVersion, it always produces
// the same chunk boundaries and therefore the same chunk_ids once combined
// with a source id by ChunkID.
func ChunkText(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	step := chunkSize - chunkOverlap
	if step <= 0 {
		step = chunkSize
	}

	for start, idx := 0, 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Index: idx})
		idx++
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkID derives a stable chunk identifier from the source id, the
// chunker version, and the chunk's position — so re-chunking the same
// document with the same chunker version reproduces identical ids.
func ChunkID(sourceID string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", sourceID, ChunkerVersion, chunkIndex)))
	return hex.EncodeToString(sum[:8])
}

// Bootstrap runs the ingestion job: chunk, embed, upsert, for every
// document. It is safe to re-run — Upsert replaces existing
// {source_id, chunk_id} rows in place.
type Bootstrap struct {
	index   *vectorindex.Index
	gateway *llm.Gateway
}

// New constructs a Bootstrap job.
func New(index *vectorindex.Index, gateway *llm.Gateway) *Bootstrap {
	return &Bootstrap{index: index, gateway: gateway}
}

// Run ingests every document: each is chunked, embedded in one batched
// gateway.Embed call per document, and upserted together.
func (b *Bootstrap) Run(ctx context.Context, docs []Document) (int, error) {
	total := 0
	for _, doc := range docs {
		n, err := b.ingestOne(ctx, doc)
		if err != nil {
			return total, fmt.Errorf("knowledge: ingest %q: %w", doc.SourceID, err)
		}
		total += n
	}
	return total, nil
}

func (b *Bootstrap) ingestOne(ctx context.Context, doc Document) (int, error) {
	chunks := ChunkText(doc.Text)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedResp, err := b.gateway.Embed(ctx, llm.EmbeddingRequest{Texts: texts}, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embedResp.Vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(embedResp.Vectors), len(chunks))
	}

	items := make([]vectorindex.Item, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{"source_name": doc.SourceName, "doc_uri": doc.DocURI, "chunk_index": c.Index}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		items[i] = vectorindex.Item{
			SourceID:   doc.SourceID,
			SourceName: doc.SourceName,
			DocURI:     doc.DocURI,
			ChunkID:    ChunkID(doc.SourceID, c.Index),
			Text:       c.Text,
			Embedding:  embedResp.Vectors[i],
			Metadata:   meta,
		}
	}

	if err := b.index.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(items), nil
}
