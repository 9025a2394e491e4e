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

// openAIAnalyzer implements the Analyzer interface against the OpenAI API.
type openAIAnalyzer struct {
	httpClient  *http.Client
	prompts     *promptBuilder
	tokens      *tokenCounter
	apiKey      string
	model       string
	baseURL     string
	contextSize int
	temperature float64
}

// newOpenAIAnalyzer creates a new OpenAI backend.
func newOpenAIAnalyzer(cfg Config) (Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gpt-4o"
	}

	contextSize := cfg.ContextLimit
	if contextSize == 0 {
		contextSize = 128000
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &openAIAnalyzer{
		apiKey:      cfg.APIKey,
		model:       modelName,
		baseURL:     "https://api.openai.com/v1",
		contextSize: contextSize,
		temperature: cfg.Temperature,
		prompts:     newPromptBuilder(cfg),
		tokens:      newTokenCounter(modelName),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// chatMessage is the chat-completions message format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the OpenAI-compatible response envelope, shared
// by the azure and custom backends.
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Analyze proposes metadata for one document.
func (c *openAIAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) AnalyzeResponse {
	systemPrompt := c.prompts.System(req)
	if req.CustomPrompt != "" {
		systemPrompt = c.prompts.AdHoc(req.CustomPrompt)
	}
	return c.complete(ctx, systemPrompt, req.Content)
}

// AnalyzeAdHoc runs an exploratory analysis with a caller-supplied prompt.
func (c *openAIAnalyzer) AnalyzeAdHoc(ctx context.Context, content, prompt string) AnalyzeResponse {
	return c.complete(ctx, c.prompts.AdHoc(prompt), content)
}

func (c *openAIAnalyzer) complete(ctx context.Context, systemPrompt, content string) AnalyzeResponse {
	content = hardTruncate(content)
	content = c.tokens.FitBudget(content, systemPrompt, c.contextSize)

	requestBody := map[string]any{
		"model": c.model,
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", strings.NewReader(string(jsonBody)))
	if err != nil {
		return degraded(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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
		return degraded(fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(body)))
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
