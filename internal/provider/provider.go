// Package provider implements the AI provider gateway. It exposes a uniform
// analysis contract over heterogeneous backend wire formats, with prompt
// construction, truncation and response sanitization handled inside the
// gateway. Backend failures never escape: they degrade to an empty-result
// sentinel carrying the error message.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/model"
)

// Analyzer is the uniform contract over all AI backends. Exactly one
// concrete implementation is selected at construction; callers never
// branch on backend identity.
type Analyzer interface {
	// Analyze proposes metadata for one document.
	Analyze(ctx context.Context, req AnalyzeRequest) AnalyzeResponse

	// AnalyzeAdHoc runs an exploratory analysis with a caller-supplied prompt.
	AnalyzeAdHoc(ctx context.Context, content, prompt string) AnalyzeResponse
}

// AnalyzeRequest carries one document's content and the metadata vocabulary
// the prompt may reference.
type AnalyzeRequest struct {
	Content                string
	CustomPrompt           string
	ExistingTags           []string
	ExistingCorrespondents []string
	DocumentID             int
}

// AnalyzeResponse is the gateway's only output shape. Err is non-empty when
// the backend call failed or returned unusable content; Result is then the
// degraded sentinel (empty tags, no correspondent).
type AnalyzeResponse struct {
	Err    string
	Result model.AnalysisResult
	Usage  model.TokenUsage
}

// Failed reports whether this response is the degraded sentinel.
func (r AnalyzeResponse) Failed() bool {
	return r.Err != ""
}

// Config holds provider gateway configuration.
type Config struct {
	Backend         string
	APIKey          string
	Model           string
	BaseURL         string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
	Language        string
	PromptTags      []string
	CustomFields    []string
	Timeout         time.Duration
	ContextLimit    int
	Temperature     float64
	UsePromptTags   bool
}

// New creates the configured backend. The backend string is inspected
// exactly once, here; everything downstream talks to the Analyzer interface.
func New(cfg Config) (Analyzer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "openai":
		return newOpenAIAnalyzer(cfg)
	case "ollama":
		return newOllamaAnalyzer(cfg)
	case "azure":
		return newAzureAnalyzer(cfg)
	case "custom":
		return newCustomAnalyzer(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported AI backend: %s", common.ErrInvalidConfig, cfg.Backend)
	}
}

// degraded builds the empty-result sentinel for a failed invocation.
func degraded(err error) AnalyzeResponse {
	return AnalyzeResponse{
		Result: model.AnalysisResult{Tags: []string{}},
		Err:    err.Error(),
	}
}
