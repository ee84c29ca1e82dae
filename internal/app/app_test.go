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

package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"crisisintake/core/internal/config"
)

func TestSelectAPIKeyPrefersOpenAIOnlyWhenConfigured(t *testing.T) {
	cfg := &config.Config{ModelProvider: "openai", OpenAIAPIKey: "openai-key", AnthropicAPIKey: "anthropic-key"}
	assert.Equal(t, "openai-key", selectAPIKey(cfg))

	cfg = &config.Config{ModelProvider: "anthropic", OpenAIAPIKey: "openai-key", AnthropicAPIKey: "anthropic-key"}
	assert.Equal(t, "anthropic-key", selectAPIKey(cfg))

	cfg = &config.Config{ModelProvider: "", AnthropicAPIKey: "anthropic-key"}
	assert.Equal(t, "anthropic-key", selectAPIKey(cfg))
}

func TestNewCacheClientReturnsNilWhenUnset(t *testing.T) {
	os.Unsetenv("REDIS_URL")
	assert.Nil(t, newCacheClient())
}

func TestNewCacheClientReturnsNilOnUnparseableURL(t *testing.T) {
	os.Setenv("REDIS_URL", "::not a url::")
	defer os.Unsetenv("REDIS_URL")
	assert.Nil(t, newCacheClient())
}

func TestNewCacheClientParsesValidURL(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	defer os.Unsetenv("REDIS_URL")
	client := newCacheClient()
	if client != nil {
		defer client.Close()
	}
	assert.NotNil(t, client)
}
