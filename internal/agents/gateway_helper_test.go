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
	"errors"

	"crisisintake/core/internal/llm"
)

// fakeProvider is a scriptable llm.Provider stand-in: each call to Complete
// consumes the next entry in responses (looping back to the last entry once
// exhausted), so tests can script a correction-retry sequence.
type fakeProvider struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	content string
	err     error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	r := p.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.CompletionResponse{Content: r.content, Model: "fake-model"}, nil
}

func (p *fakeProvider) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	vecs := make([][]float64, len(req.Texts))
	for i := range vecs {
		vecs[i] = []float64{0.1, 0.2, 0.3}
	}
	return &llm.EmbeddingResponse{Vectors: vecs, Model: "fake-model"}, nil
}

func (p *fakeProvider) DefaultModel() string { return "fake-model" }

func newFakeGateway(responses ...string) *llm.Gateway {
	fr := make([]fakeResponse, len(responses))
	for i, r := range responses {
		fr[i] = fakeResponse{content: r}
	}
	return llm.NewGateway(&fakeProvider{responses: fr}, llm.GatewayConfig{MaxRetries: 0})
}

var errProviderDown = errors.New("provider down")
