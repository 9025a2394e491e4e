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

// ollamaAnalyzer implements the Analyzer interface against a local Ollama
// instance. It is the one backend with schema-constrained structured output:
// the response is decoded directly instead of going through regex extraction.
type ollamaAnalyzer struct {
	httpClient  *http.Client
	prompts     *promptBuilder
	tokens      *tokenCounter
	model       string
	baseURL     string
	contextSize int
	temperature float64
}

// analysisSchema constrains Ollama's output to the AnalysisResult shape.
var analysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":         map[string]any{"type": "string"},
		"correspondent": map[string]any{"type": "string"},
		"tags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"document_type": map[string]any{"type": "string"},
		"document_date": map[string]any{"type": "string"},
		"language":      map[string]any{"type": "string"},
		"custom_fields": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	},
	"required": []string{"title", "correspondent", "tags", "document_type"},
}

// newOllamaAnalyzer creates a new Ollama backend.
func newOllamaAnalyzer(cfg Config) (Analyzer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "llama3.2"
	}

	contextSize := cfg.ContextLimit
	if contextSize == 0 {
		contextSize = 8192
	}

	// Local models can be very slow on large documents.
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}

	return &ollamaAnalyzer{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       modelName,
		contextSize: contextSize,
		temperature: cfg.Temperature,
		prompts:     newPromptBuilder(cfg),
		tokens:      newTokenCounter(modelName),
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// ollamaChatRequest is the Ollama /api/chat request format.
type ollamaChatRequest struct {
	Format   json.RawMessage `json:"format,omitempty"`
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Options  map[string]any  `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

// ollamaChatResponse is the Ollama /api/chat response format.
type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Analyze proposes metadata for one document.
func (c *ollamaAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) AnalyzeResponse {
	systemPrompt := c.prompts.System(req)
	if req.CustomPrompt != "" {
		systemPrompt = c.prompts.AdHoc(req.CustomPrompt)
	}
	return c.complete(ctx, systemPrompt, req.Content)
}

// AnalyzeAdHoc runs an exploratory analysis with a caller-supplied prompt.
func (c *ollamaAnalyzer) AnalyzeAdHoc(ctx context.Context, content, prompt string) AnalyzeResponse {
	return c.complete(ctx, c.prompts.AdHoc(prompt), content)
}

func (c *ollamaAnalyzer) complete(ctx context.Context, systemPrompt, content string) AnalyzeResponse {
	content = hardTruncate(content)
	content = c.tokens.FitBudget(content, systemPrompt, c.contextSize)

	schema, err := json.Marshal(analysisSchema)
	if err != nil {
		return degraded(fmt.Errorf("failed to marshal schema: %w", err))
	}

	reqBody := ollamaChatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		Stream: false,
		Format: schema,
	}
	if c.temperature > 0 {
		reqBody.Options = map[string]any{"temperature": c.temperature}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return degraded(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", strings.NewReader(string(jsonBody)))
	if err != nil {
		return degraded(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return degraded(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return degraded(fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return degraded(fmt.Errorf("failed to decode response: %w", err))
	}

	if chatResp.Message.Content == "" {
		return degraded(fmt.Errorf("%w: ollama returned no content", common.ErrEmptyResponse))
	}

	// Structured output: decode directly, no free-text extraction needed.
	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(chatResp.Message.Content), &result); err != nil {
		// The schema constraint is advisory for some models; fall back to
		// the usual extraction path before degrading.
		var parseErr error
		result, parseErr = parseAnalysis(chatResp.Message.Content)
		if parseErr != nil {
			return AnalyzeResponse{Result: result, Err: parseErr.Error()}
		}
	} else {
		result = normalizeResult(result)
	}

	// Ollama reports no token usage; all-zero means unmeasured.
	return AnalyzeResponse{Result: result}
}
