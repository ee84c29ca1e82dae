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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache is the Redis-backed retrieval-result cache, narrowed to the
// Get/Set pair the service needs. Keys are namespaced so the cache can
// be shared with other Redis-backed features without collision.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps an existing *redis.Client. Tests pass a
// miniredis-backed client.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key derives the cache key from the normalized query and the request
// shape: (normalized_query, n_results, similarity_threshold,
// subset_predicate_id). Two requests differing in any of these never
// share an entry.
func Key(normalizedQuery string, nResults int, threshold *float64, subsetPredicateID string) string {
	t := "none"
	if threshold != nil {
		t = fmt.Sprintf("%.4f", *threshold)
	}
	raw := fmt.Sprintf("%s|%d|%s|%s", normalizedQuery, nResults, t, subsetPredicateID)
	sum := sha256.Sum256([]byte(raw))
	return "retrieval:cache:" + hex.EncodeToString(sum[:])
}

type cachedResult struct {
	Citations []Citation `json:"citations"`
	Raw       []RawHit   `json:"raw"`
}

// Get returns the cached citations/raw hits for key, or ok=false on a miss
// or any decode failure (a corrupt cache entry is treated as a miss, never
// surfaced as an error to the caller).
func (c *Cache) Get(ctx context.Context, key string) (citations []Citation, raw []RawHit, ok bool) {
	if c == nil || c.client == nil {
		return nil, nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, nil, false
	}

	var cr cachedResult
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, nil, false
	}
	return cr.Citations, cr.Raw, true
}

// Set stores citations/raw under key for the cache's configured TTL.
func (c *Cache) Set(ctx context.Context, key string, citations []Citation, raw []RawHit) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(cachedResult{Citations: citations, Raw: raw})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, data, c.ttl).Err()
}
