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

// Package app wires the process-wide singletons — the Model Gateway and
// Retrieval Service are constructed once here and shared by every agent.
// Everything initializes at process start with explicit references passed
// into callers; nothing initializes lazily on first use, so startup
// errors surface at startup. Singletons are constructed in dependency
// order, failing fast only when the model provider or the configured audit
// file sink cannot be constructed.
package app

import (
	"fmt"
	"log"
	"os"

	"github.com/go-redis/redis/v8"

	"crisisintake/core/internal/agents"
	"crisisintake/core/internal/analyticsstore"
	"crisisintake/core/internal/audit"
	"crisisintake/core/internal/config"
	"crisisintake/core/internal/llm"
	"crisisintake/core/internal/llm/anthropic"
	"crisisintake/core/internal/llm/bedrock"
	"crisisintake/core/internal/orchestrator"
	"crisisintake/core/internal/plugin"
	"crisisintake/core/internal/retrieval"
	"crisisintake/core/internal/vectorindex"
)

// App bundles every constructed singleton plus the Orchestrator that
// composes them into the ProcessRequest entry point.
type App struct {
	Config       *config.Config
	Gateway      *llm.Gateway
	Retriever    *retrieval.Service
	Store        *analyticsstore.Store
	Index        *vectorindex.Index
	Orchestrator *orchestrator.Orchestrator
	Plugins      *plugin.Registry
}

// New constructs every process-wide singleton from cfg, in dependency
// order: provider -> gateway -> analytics store / vector index -> cache ->
// retrieval service -> agents -> orchestrator -> plugin registry.
//
// The analytics store and vector index are best-effort: New fails only
// when the model provider cannot be constructed (such as a missing
// ANTHROPIC_API_KEY/OPENAI_API_KEY) or the file audit sink cannot be
// opened; an unreachable downstream data store is a runtime condition the owning
// agent surfaces as a data-kind AgentResult failure, not a process-start
// failure, so New logs a warning and proceeds with a nil client rather
// than aborting.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[crisisintake] ", log.LstdFlags)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: construct model provider: %w", err)
	}

	gateway := llm.NewGateway(provider, llm.GatewayConfig{
		TimeoutEnabled: cfg.GatewayTimeoutEnabled,
		DefaultTimeout: cfg.DefaultTimeout,
		RetryEnabled:   cfg.GatewayRetryEnabled,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		RetryJitter:    cfg.RetryJitter,
		CircuitEnabled: cfg.GatewayCircuitBreaker,
		CBThreshold:    cfg.CBThreshold,
		CBRecovery:     cfg.CBRecovery,
		CBHalfOpenMax:  cfg.CBHalfOpenMax,
		AuditPrompts:   cfg.AuditLogPrompts,
		AuditResponses: cfg.AuditLogResponses,
	})

	var store *analyticsstore.Store
	if cfg.AnalyticsURL != "" {
		store, err = analyticsstore.Open(cfg.AnalyticsURL)
		if err != nil {
			logger.Printf("warning: analytics store unavailable: %v", err)
		}
	}

	var index *vectorindex.Index
	if cfg.VectorIndexPath != "" {
		index, err = vectorindex.Open(cfg.VectorIndexPath)
		if err != nil {
			logger.Printf("warning: vector index unavailable: %v", err)
		}
	}

	var retrievalOpts []retrieval.Option
	if cfg.RetrievalCacheEnabled {
		if redisClient := newCacheClient(); redisClient != nil {
			retrievalOpts = append(retrievalOpts, retrieval.WithCache(retrieval.NewCache(redisClient, cfg.RetrievalCacheTTL), true))
		}
	}
	retriever := retrieval.NewService(index, gateway, cfg.DefaultTopK, retrievalOpts...)

	queryAgent := agents.NewQueryAgent(gateway, store, analyticsstore.CrisisEventsSchema)
	analyticsAgent := agents.NewAnalyticsAgent(gateway, cfg.SurgeMultiplier, cfg.MinAbsoluteRate)
	triageAgent := agents.NewTriageAgent()
	recommendationsAgent := agents.NewRecommendationsAgent(gateway)
	knowledgeAgent := agents.NewKnowledgeAgent(gateway, retriever)

	var sink audit.Sink
	switch cfg.AuditSink {
	case "file":
		fileSink, err := audit.NewFileSink(cfg.AuditFilePath)
		if err != nil {
			return nil, fmt.Errorf("app: construct audit file sink: %w", err)
		}
		sink = fileSink
	default:
		sink = audit.NewStdoutSink()
	}

	orch := orchestrator.New(orchestrator.Deps{
		Gateway:                gateway,
		Retriever:              retriever,
		QueryAgent:             queryAgent,
		AnalyticsAgent:         analyticsAgent,
		TriageAgent:            triageAgent,
		RecommendationsAgent:   recommendationsAgent,
		KnowledgeAgent:         knowledgeAgent,
		PlatformEnabled:        cfg.PlatformEnabled,
		IncludeTraceInResponse: cfg.IncludeTraceInResponse,
		Sink:                   sink,
	})

	// Plugin registration is an explicit call site, not reflection-based
	// loading. The core ships no plugins of its own; a deployment that
	// wants the policy Q&A / licensing / infrastructure use-cases registers
	// them here, gated by plugin.LoadEnablementFile.
	plugins := plugin.NewRegistry()

	return &App{
		Config:       cfg,
		Gateway:      gateway,
		Retriever:    retriever,
		Store:        store,
		Index:        index,
		Orchestrator: orch,
		Plugins:      plugins,
	}, nil
}

// Close releases every owned resource.
func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Index != nil {
		_ = a.Index.Close()
	}
}

// newProvider constructs the concrete llm.Provider MODEL_PROVIDER selects.
// Bedrock authenticates via the AWS credential chain (IAM role) instead of
// an API key; everything else speaks the Anthropic HTTP API with the key
// selectAPIKey resolves.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.ModelProvider == "bedrock" {
		return bedrock.New(bedrock.Config{
			Region: cfg.BedrockRegion,
			Model:  cfg.BedrockModel,
		})
	}
	return anthropic.New(anthropic.Config{
		APIKey: selectAPIKey(cfg),
		Model:  cfg.ModelName,
	})
}

func selectAPIKey(cfg *config.Config) string {
	if cfg.ModelProvider == "openai" {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}

// newCacheClient builds a go-redis client from REDIS_URL, returning nil
// (cache disabled) when unset or unparseable rather than failing startup —
// retrieval_cache_enabled is a soft feature flag, not a fatal dependency.
func newCacheClient() *redis.Client {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil
	}
	return redis.NewClient(opts)
}
