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

// Package bedrock is the gateway's AWS Bedrock llm.Provider implementation.
// Authentication is AWS Signature V4 via the ambient IAM role or credential
// chain, so no API key crosses this process. Completions target the
// Anthropic model family on Bedrock (model IDs like
// anthropic.claude-3-5-sonnet-20240620-v1:0, with optional regional
// inference-profile prefixes); embeddings target Amazon Titan. SDK errors
// are mapped onto the llm.ProviderError taxonomy so the gateway's retry
// classifier can key off Code alone.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"crisisintake/core/internal/llm"
)

const (
	DefaultRegion     = "us-east-1"
	DefaultModel      = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultEmbedModel = "amazon.titan-embed-text-v2:0"
	DefaultMaxTokens  = 4096

	anthropicVersion = "bedrock-2023-05-31"
)

// inferenceProfilePrefixes are the regional routing prefixes a Bedrock
// inference-profile model ID may carry before the model family segment.
var inferenceProfilePrefixes = []string{"us", "eu", "apac", "global"}

// InvokeModelAPI abstracts the bedrockruntime client for testability.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config configures a Provider instance.
type Config struct {
	Region     string
	Model      string
	EmbedModel string
	Client     InvokeModelAPI
}

// Provider implements llm.Provider against the Bedrock runtime API.
type Provider struct {
	client     InvokeModelAPI
	region     string
	model      string
	embedModel string
}

// New constructs a Bedrock provider. When no client is injected, the AWS
// credential chain is resolved once here at construction so a misconfigured
// environment fails at startup rather than on the first request.
func New(cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}

	if cfg.Client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("bedrock: load AWS config (region %s): %w", cfg.Region, err)
		}
		cfg.Client = bedrockruntime.NewFromConfig(awsCfg)
	}

	return &Provider{
		client:     cfg.Client,
		region:     cfg.Region,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
	}, nil
}

func (p *Provider) Name() string         { return "bedrock" }
func (p *Provider) DefaultModel() string { return p.model }

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicBody struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type anthropicResponseBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider. Only the Anthropic model family is
// supported for completions; any other family in the model ID is rejected
// before a request is made.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	if family := modelFamily(model); family != "anthropic" {
		return nil, &llm.ProviderError{
			Provider: p.Name(),
			Code:     llm.ErrCodeClient4xx,
			Message:  fmt.Sprintf("unsupported model family %q in model id %q", family, model),
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages, system := toBedrockMessages(req)

	apiReq := anthropicBody{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         messages,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "marshal request", Cause: err}
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.classifyError(err)
	}

	var apiResp anthropicResponseBody
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "decode response", Cause: err}
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: text.String(),
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements llm.Provider via Amazon Titan embeddings. Titan accepts
// one input text per invocation, so a batch becomes one InvokeModel call
// per text, in order.
func (p *Provider) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.embedModel
	}

	vectors := make([][]float64, 0, len(req.Texts))
	for _, text := range req.Texts {
		body, err := json.Marshal(titanEmbedRequest{InputText: text})
		if err != nil {
			return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "marshal request", Cause: err}
		}

		output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, p.classifyError(err)
		}

		var apiResp titanEmbedResponse
		if err := json.Unmarshal(output.Body, &apiResp); err != nil {
			return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "decode response", Cause: err}
		}
		vectors = append(vectors, apiResp.Embedding)
	}

	return &llm.EmbeddingResponse{Vectors: vectors, Model: model}, nil
}

func toBedrockMessages(req llm.CompletionRequest) ([]bedrockMessage, string) {
	if len(req.Messages) == 0 {
		return []bedrockMessage{{Role: "user", Content: req.Prompt}}, ""
	}

	var system string
	var out []bedrockMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		out = append(out, bedrockMessage{Role: m.Role, Content: m.Content})
	}
	return out, system
}

// modelFamily extracts the model family from a Bedrock model ID, skipping a
// regional inference-profile prefix when present. Model IDs follow
// provider.model-name-version, e.g. anthropic.claude-3-5-sonnet-20240620-v1:0
// or us.anthropic.claude-sonnet-4-5-20250929-v1:0.
func modelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	for _, prefix := range inferenceProfilePrefixes {
		if segments[0] == prefix {
			return segments[1]
		}
	}
	return segments[0]
}

// classifyError maps an SDK failure onto the gateway's retry taxonomy via
// the smithy API error code. A failure that never produced an API error is
// a transport problem.
func (p *Provider) classifyError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeConnection, Message: "transport error", Cause: err}
	}

	code := llm.ErrCodeUnclassified
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		code = llm.ErrCodeRateLimit
	case "ModelTimeoutException":
		code = llm.ErrCodeTimeout
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		code = llm.ErrCodeAuth
	case "ValidationException", "ResourceNotFoundException":
		code = llm.ErrCodeClient4xx
	case "InternalServerException", "ServiceUnavailableException", "ModelErrorException":
		code = llm.ErrCodeServer5xx
	}

	return &llm.ProviderError{
		Provider: p.Name(),
		Code:     code,
		Message:  apiErr.ErrorMessage(),
		Cause:    err,
	}
}
