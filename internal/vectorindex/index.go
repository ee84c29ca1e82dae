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

// Package vectorindex is the client the Retrieval Service and the Knowledge
// Index Bootstrap job use to reach the policy/statute vector store. It
// speaks pgvector-style cosine-distance SQL through database/sql rather
// than arbitrary statements; hits carry {id, distance, document, metadata}
// and score normalization is the retrieval service's concern.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	cerrors "crisisintake/core/internal/errors"
)

// Item is one chunk to upsert into the index.
type Item struct {
	SourceID   string
	SourceName string
	DocURI     string
	ChunkID    string
	Text       string
	Embedding  []float64
	Metadata   map[string]any
}

// Hit is one raw result from a similarity query, before the Retrieval
// Service normalizes it into a Citation.
type Hit struct {
	ID       string
	Distance float64
	Document string
	Metadata map[string]any
}

// Filter narrows a query to a subset of the index, e.g. "statutes only".
// Predicate is an opaque SQL WHERE fragment; ID identifies the predicate for
// cache-key purposes.
type Filter struct {
	ID        string
	Predicate string
}

// Index is the vector-index client. One instance is shared by the
// Retrieval Service and the Knowledge Index Bootstrap job.
type Index struct {
	db *sql.DB
}

// Open connects to the vector index store at dsn.
func Open(dsn string) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, cerrors.New(cerrors.KindInternal, "vectorindex", "open", "failed to open connection", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, cerrors.New(cerrors.KindData, "vectorindex", "open", "failed to ping vector index", err)
	}
	return &Index{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests against sqlmock.
func NewWithDB(db *sql.DB) *Index {
	return &Index{db: db}
}

// Close releases the underlying connection pool.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Upsert writes items into the index, replacing any existing row sharing
// the same {source_id, chunk_id} pair, so re-ingestion is idempotent.
// Each item is written in its own statement, outside any transaction:
// Upsert stops at the first failing item and returns its error; items
// written before it stay written, and items after it are not attempted.
func (ix *Index) Upsert(ctx context.Context, items []Item) error {
	const stmt = `
		INSERT INTO policy_chunks (source_id, source_name, doc_uri, chunk_id, document, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, chunk_id) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			doc_uri     = EXCLUDED.doc_uri,
			document    = EXCLUDED.document,
			embedding   = EXCLUDED.embedding,
			metadata    = EXCLUDED.metadata`

	for _, item := range items {
		vec := encodeVector(item.Embedding)
		meta := encodeMetadata(item.Metadata)
		if _, err := ix.db.ExecContext(ctx, stmt,
			item.SourceID, item.SourceName, item.DocURI, item.ChunkID, item.Text, vec, meta); err != nil {
			return cerrors.New(cerrors.KindData, "vectorindex", "upsert", fmt.Sprintf("upsert failed for chunk %s/%s", item.SourceID, item.ChunkID), err)
		}
	}
	return nil
}

// Query runs a nearest-neighbor search against embedding, returning up to
// nResults hits ordered by ascending distance. When filter is non-nil, its
// Predicate is appended as an additional WHERE clause.
func (ix *Index) Query(ctx context.Context, embedding []float64, nResults int, filter *Filter) ([]Hit, error) {
	vec := encodeVector(embedding)

	stmt := `SELECT source_id, chunk_id, document, metadata, embedding <=> $1 AS distance
	          FROM policy_chunks`
	args := []any{vec}
	if filter != nil && filter.Predicate != "" {
		stmt += " WHERE " + filter.Predicate
	}
	stmt += " ORDER BY distance ASC LIMIT $2"
	args = append(args, nResults)

	rows, err := ix.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, cerrors.New(cerrors.KindData, "vectorindex", "query", "similarity query failed", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var sourceID, chunkID, document string
		var metaRaw []byte
		var distance float64
		if err := rows.Scan(&sourceID, &chunkID, &document, &metaRaw, &distance); err != nil {
			return nil, cerrors.New(cerrors.KindData, "vectorindex", "query", "failed to scan hit", err)
		}
		hits = append(hits, Hit{
			ID:       sourceID + "/" + chunkID,
			Distance: distance,
			Document: document,
			Metadata: decodeMetadata(metaRaw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.New(cerrors.KindData, "vectorindex", "query", "error during row iteration", err)
	}
	return hits, nil
}

func encodeVector(v []float64) string {
	out := "["
	for i, f := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%g", f)
	}
	return out + "]"
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMetadata(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
