// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package anthropic is the gateway's default llm.Provider implementation:
// a hand-rolled HTTP client against the Messages and Embeddings APIs,
// limited to non-streaming completions and embeddings (the reasoning core
// never streams) and mapped onto the llm.ProviderError taxonomy so the
// gateway's retry classifier can key off Code alone.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"crisisintake/core/internal/llm"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	DefaultMaxTokens  = 4096
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultEmbedModel = "text-embedding-3-small"
)

// HTTPClient abstracts http.Client for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider instance.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	EmbedModel string
	Client     HTTPClient
}

// Provider implements llm.Provider against the Anthropic Messages API.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	embedModel string
	client     HTTPClient
}

// New constructs an Anthropic provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		client:     cfg.Client,
	}, nil
}

func (p *Provider) Name() string         { return "anthropic" }
func (p *Provider) DefaultModel() string { return p.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages, system := toAnthropicMessages(req)

	apiReq := anthropicRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		System:    system,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "build request", Cause: err}
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "decode response", Cause: err}
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: text.String(),
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

type embeddingRequestBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponseBody struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements llm.Provider against Anthropic's embeddings endpoint.
func (p *Provider) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.embedModel
	}

	body, err := json.Marshal(embeddingRequestBody{Model: model, Input: req.Texts})
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "build request", Cause: err}
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, respBody)
	}

	var apiResp embeddingResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeUnclassified, Message: "decode response", Cause: err}
	}

	vectors := make([][]float64, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}

	return &llm.EmbeddingResponse{Vectors: vectors, Model: model}, nil
}

func toAnthropicMessages(req llm.CompletionRequest) ([]anthropicMessage, string) {
	if len(req.Messages) == 0 {
		return []anthropicMessage{{Role: "user", Content: req.Prompt}}, ""
	}

	var system string
	var out []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out, system
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

// classifyTransportError maps a transport-level failure (DNS, dial, reset)
// onto the gateway's retry taxonomy. Timeout detection happens one layer up
// in the gateway via context deadline, so any transport error here is a
// connection error.
func (p *Provider) classifyTransportError(err error) error {
	return &llm.ProviderError{Provider: p.Name(), Code: llm.ErrCodeConnection, Message: "transport error", Cause: err}
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError maps an HTTP status/body onto a classified ProviderError
// using the rate_limit/auth/5xx/4xx split the retry classifier keys off.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp anthropicErrorBody
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	code := llm.ErrCodeUnclassified
	switch {
	case statusCode == http.StatusTooManyRequests:
		code = llm.ErrCodeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = llm.ErrCodeAuth
	case statusCode >= 500:
		code = llm.ErrCodeServer5xx
	case statusCode >= 400:
		code = llm.ErrCodeClient4xx
	}

	return &llm.ProviderError{
		Provider:   p.Name(),
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}
