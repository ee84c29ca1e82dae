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
	"sort"
	"strings"
	"time"

	"crisisintake/core/internal/audit"
	cerrors "crisisintake/core/internal/errors"
	"crisisintake/core/internal/llm"
	"crisisintake/core/internal/metrics"
	"crisisintake/core/internal/vectorindex"
)

// Strategy names the retrieval method used, carried in the audit event and
// the Result so downstream consumers can distinguish cache hits, subset
// queries, and a future second strategy without changing the Result shape.
const (
	StrategyDense       = "dense_vector"
	StrategyDenseSubset = "dense_vector_subset"
)

// Service is the process-wide singleton wrapper over the vector index.
// Construct once at process start and share across every agent: the
// Retrieval Service owns no request state, only its own cache.
type Service struct {
	index       *vectorindex.Index
	gateway     *llm.Gateway
	cache       *Cache
	cacheOn     bool
	defaultTopK int
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithCache attaches a result cache, enabled only when cacheEnabled is
// true (the retrieval_cache_enabled flag).
func WithCache(cache *Cache, cacheEnabled bool) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheOn = cacheEnabled
	}
}

// NewService constructs a Service around a vector index client and the
// gateway used to embed queries.
func NewService(index *vectorindex.Index, gateway *llm.Gateway, defaultTopK int, opts ...Option) *Service {
	s := &Service{index: index, gateway: gateway, defaultTopK: defaultTopK}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubsetPredicate narrows a Search to a named subset of the index, e.g.
// "statutes only" or "policies, excluding table-of-contents".
type SubsetPredicate struct {
	ID  string
	SQL string
}

// Search performs the default, unfiltered retrieval.
func (s *Service) Search(ctx context.Context, query string, nResults int, similarityThreshold *float64, auditCtx *audit.Context) (*Result, error) {
	return s.search(ctx, query, nResults, similarityThreshold, nil, auditCtx)
}

// SearchSubset performs retrieval restricted to subset.
func (s *Service) SearchSubset(ctx context.Context, query string, nResults int, similarityThreshold *float64, subset SubsetPredicate, auditCtx *audit.Context) (*Result, error) {
	return s.search(ctx, query, nResults, similarityThreshold, &subset, auditCtx)
}

func (s *Service) search(ctx context.Context, query string, nResults int, threshold *float64, subset *SubsetPredicate, auditCtx *audit.Context) (*Result, error) {
	start := time.Now()

	if nResults <= 0 {
		nResults = s.defaultTopK
	}

	if strings.TrimSpace(query) == "" {
		err := cerrors.New(cerrors.KindValidation, "retrieval", "search", "query must not be empty", nil)
		s.recordAudit(auditCtx, start, len(query), 0, nResults, false, false, strategyFor(subset))
		return nil, err
	}

	subsetID := ""
	var filter *vectorindex.Filter
	if subset != nil {
		subsetID = subset.ID
		filter = &vectorindex.Filter{ID: subset.ID, Predicate: subset.SQL}
	}

	cacheKey := Key(normalize(query), nResults, threshold, subsetID)
	if s.cacheOn && s.cache != nil {
		if citations, raw, ok := s.cache.Get(ctx, cacheKey); ok {
			result := &Result{
				Citations:   citations,
				Raw:         raw,
				QueryLength: len(query),
				NResults:    nResults,
				Strategy:    strategyFor(subset),
				CacheHit:    true,
				LatencyMs:   float64(time.Since(start)) / float64(time.Millisecond),
			}
			s.recordAudit(auditCtx, start, len(query), len(citations), nResults, true, true, result.Strategy)
			return result, nil
		}
	}

	if s.index == nil {
		wrapped := cerrors.New(cerrors.KindData, "retrieval", "search", "retrieval index unavailable", nil)
		s.recordAudit(auditCtx, start, len(query), 0, nResults, false, false, strategyFor(subset))
		return nil, wrapped
	}

	embedResp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{Texts: []string{query}}, 0, auditCtx)
	if err != nil {
		wrapped := cerrors.New(cerrors.KindData, "retrieval", "search", "retrieval index unavailable", err)
		s.recordAudit(auditCtx, start, len(query), 0, nResults, false, false, strategyFor(subset))
		return nil, wrapped
	}
	var embedding []float64
	if len(embedResp.Vectors) > 0 {
		embedding = embedResp.Vectors[0]
	}

	hits, err := s.index.Query(ctx, embedding, nResults, filter)
	if err != nil {
		wrapped := cerrors.New(cerrors.KindData, "retrieval", "search", "vector index query failed", err)
		s.recordAudit(auditCtx, start, len(query), 0, nResults, false, false, strategyFor(subset))
		return nil, wrapped
	}

	citations, raw := buildCitations(hits, threshold)

	result := &Result{
		Citations:   citations,
		Raw:         raw,
		QueryLength: len(query),
		NResults:    nResults,
		Strategy:    strategyFor(subset),
		CacheHit:    false,
		LatencyMs:   float64(time.Since(start)) / float64(time.Millisecond),
	}

	if s.cacheOn && s.cache != nil {
		s.cache.Set(ctx, cacheKey, citations, raw)
	}

	s.recordAudit(auditCtx, start, len(query), len(citations), nResults, true, false, result.Strategy)
	return result, nil
}

// buildCitations maps raw vector-index hits to Citations, applying the
// similarity threshold, then descending-score ordering with
// ascending-(source_id, chunk_id) tie-break for determinism.
func buildCitations(hits []vectorindex.Hit, threshold *float64) ([]Citation, []RawHit) {
	citations := make([]Citation, 0, len(hits))
	raw := make([]RawHit, 0, len(hits))

	for _, h := range hits {
		raw = append(raw, RawHit{ID: h.ID, Distance: h.Distance})

		score := normalizeScore(h.Distance)
		if threshold != nil && score < *threshold {
			continue
		}

		sourceID, chunkID := splitHitID(h.ID)
		name, _ := h.Metadata["source_name"].(string)
		uri, _ := h.Metadata["doc_uri"].(string)

		citations = append(citations, New(sourceID, name, uri, chunkID, h.Document, score, h.Metadata))
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Score() != citations[j].Score() {
			return citations[i].Score() > citations[j].Score()
		}
		if citations[i].SourceID() != citations[j].SourceID() {
			return citations[i].SourceID() < citations[j].SourceID()
		}
		return citations[i].ChunkID() < citations[j].ChunkID()
	})

	return citations, raw
}

// normalizeScore converts a cosine-distance metric (0 = identical, up to 2
// for opposite vectors) into a bounded-[0,1] similarity score where 1.0 is
// most similar. The index reports distance; only this service knows how
// to turn it into a score.
func normalizeScore(distance float64) float64 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func splitHitID(id string) (sourceID, chunkID string) {
	idx := strings.LastIndex(id, "/")
	if idx < 0 {
		return id, id
	}
	return id[:idx], id[idx+1:]
}

func normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func strategyFor(subset *SubsetPredicate) string {
	if subset != nil {
		return StrategyDenseSubset
	}
	return StrategyDense
}

func (s *Service) recordAudit(auditCtx *audit.Context, start time.Time, queryLen, nResults, requested int, success, cacheHit bool, strategy string) {
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	metrics.RetrievalRequestsTotal.WithLabelValues(strategy, metrics.BoolLabel(cacheHit), metrics.BoolLabel(success)).Inc()
	metrics.RetrievalDuration.Observe(latencyMs)

	if auditCtx == nil {
		return
	}
	auditCtx.Record(audit.OpRetrieval, success, latencyMs, map[string]any{
		"query_length": queryLen,
		"n_results":    nResults,
		"cache_hit":    cacheHit,
		"strategy":     strategy,
		"requested":    requested,
	})
}
