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

package llm

import "context"

// Provider is the unified interface every language-model backend must
// implement. Implementations must be safe for concurrent use; the gateway
// holds a single instance per process.
type Provider interface {
	// Name is the unique identifier for this provider instance, used in
	// audit events and error messages.
	Name() string

	// Complete generates a non-streaming completion. ctx carries the
	// gateway's timeout when gateway_timeout_enabled is set.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Embed generates vectors for a batch of texts.
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)

	// DefaultModel is used when a request does not specify one.
	DefaultModel() string
}
