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

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PLATFORM_ENABLED", "INCLUDE_TRACE_IN_RESPONSE", "GATEWAY_CENTRALIZED",
		"GATEWAY_TIMEOUT_ENABLED", "GATEWAY_RETRY_ENABLED", "GATEWAY_CIRCUIT_BREAKER_ENABLED",
		"RETRIEVAL_CACHE_ENABLED", "AUDIT_LOG_PROMPTS", "AUDIT_LOG_RESPONSES",
		"DEFAULT_TIMEOUT_S", "MAX_RETRIES", "RETRY_BASE_DELAY_S", "RETRY_MAX_DELAY_S",
		"RETRY_JITTER", "CB_THRESHOLD", "CB_RECOVERY_S", "CB_HALF_OPEN_MAX", "DEFAULT_TOP_K",
		"SURGE_MULTIPLIER", "MIN_ABSOLUTE_RATE", "MODEL_PROVIDER", "ANTHROPIC_API_KEY",
		"OPENAI_API_KEY", "MODEL_NAME", "BEDROCK_REGION", "BEDROCK_MODEL",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.PlatformEnabled)
	assert.False(t, c.IncludeTraceInResponse)
	assert.True(t, c.GatewayCentralized)
	assert.False(t, c.GatewayTimeoutEnabled)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 60*time.Second, c.DefaultTimeout)
	assert.Equal(t, 1.5, c.SurgeMultiplier)
	assert.Equal(t, 2.0, c.MinAbsoluteRate)
}

func TestLoadFailsWithoutCredential(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadUnknownBooleanFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	os.Setenv("GATEWAY_RETRY_ENABLED", "not-a-bool")
	defer os.Unsetenv("ANTHROPIC_API_KEY")
	defer os.Unsetenv("GATEWAY_RETRY_ENABLED")

	c, err := Load()
	require.NoError(t, err)
	assert.False(t, c.GatewayRetryEnabled)
}

func TestLoadBedrockProviderRequiresRegionNotKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("MODEL_PROVIDER", "bedrock")
	defer os.Unsetenv("MODEL_PROVIDER")

	_, err := Load()
	require.Error(t, err, "bedrock without a region fails startup")

	os.Setenv("BEDROCK_REGION", "us-east-1")
	defer os.Unsetenv("BEDROCK_REGION")

	c, err := Load()
	require.NoError(t, err, "bedrock needs no API key, only a region")
	assert.Equal(t, "us-east-1", c.BedrockRegion)
}

func TestLoadOpenAIProvider(t *testing.T) {
	clearEnv(t)
	os.Setenv("MODEL_PROVIDER", "openai")
	os.Setenv("OPENAI_API_KEY", "sk-test")
	defer os.Unsetenv("MODEL_PROVIDER")
	defer os.Unsetenv("OPENAI_API_KEY")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", c.ModelProvider)
}
