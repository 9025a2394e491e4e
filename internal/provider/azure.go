package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/model"
)

// azureAnalyzer implements the Analyzer interface against an Azure OpenAI
// deployment. The wire format is chat-completions, but the endpoint is
// deployment-scoped and authentication uses an api-key header instead of a
// bearer token.
type azureAnalyzer struct {
	httpClient  *http.Client
	prompts     *promptBuilder
	tokens      *tokenCounter
	apiKey      string
	endpoint    string
	deployment  string
	apiVersion  string
	contextSize int
	temperature float64
}

// newAzureAnalyzer creates a new Azure OpenAI backend.
func newAzureAnalyzer(cfg Config) (Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Azure API key is required", common.ErrMissingConfig)
	}
	if cfg.AzureEndpoint == "" {
		return nil, fmt.Errorf("%w: Azure endpoint is required", common.ErrMissingConfig)
	}
	if cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("%w: Azure deployment name is required", common.ErrMissingConfig)
	}

	apiVersion := cfg.AzureAPIVersion
	if apiVersion == "" {
		apiVersion = "2024-02-15-preview"
	}

	contextSize := cfg.ContextLimit
	if contextSize == 0 {
		contextSize = 128000
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &azureAnalyzer{
		apiKey:      cfg.APIKey,
		endpoint:    strings.TrimSuffix(cfg.AzureEndpoint, "/"),
		deployment:  cfg.AzureDeployment,
		apiVersion:  apiVersion,
		contextSize: contextSize,
		temperature: cfg.Temperature,
		prompts:     newPromptBuilder(cfg),
		tokens:      newTokenCounter(cfg.Model),
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Analyze proposes metadata for one document.
func (c *azureAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) AnalyzeResponse {
	systemPrompt := c.prompts.System(req)
	if req.CustomPrompt != "" {
		systemPrompt = c.prompts.AdHoc(req.CustomPrompt)
	}
	return c.complete(ctx, systemPrompt, req.Content)
}

// AnalyzeAdHoc runs an exploratory analysis with a caller-supplied prompt.
func (c *azureAnalyzer) AnalyzeAdHoc(ctx context.Context, content, prompt string) AnalyzeResponse {
	return c.complete(ctx, c.prompts.AdHoc(prompt), content)
}

func (c *azureAnalyzer) completionsURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)
}

func (c *azureAnalyzer) complete(ctx context.Context, systemPrompt, content string) AnalyzeResponse {
	content = hardTruncate(content)
	content = c.tokens.FitBudget(content, systemPrompt, c.contextSize)

	requestBody := map[string]any{
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		"temperature": c.temperature,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return degraded(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), strings.NewReader(string(jsonBody)))
	if err != nil {
		return degraded(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return degraded(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return degraded(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return degraded(fmt.Errorf("azure OpenAI error (status %d): %s", resp.StatusCode, string(body)))
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return degraded(fmt.Errorf("failed to parse response: %w", err))
	}

	if len(response.Choices) == 0 {
		return degraded(fmt.Errorf("%w: no completion choices returned", common.ErrEmptyResponse))
	}

	result, err := parseAnalysis(response.Choices[0].Message.Content)
	if err != nil {
		return AnalyzeResponse{Result: result, Err: err.Error()}
	}

	return AnalyzeResponse{
		Result: result,
		Usage: model.TokenUsage{
			Prompt:     response.Usage.PromptTokens,
			Completion: response.Usage.CompletionTokens,
			Total:      response.Usage.TotalTokens,
		},
	}
}
