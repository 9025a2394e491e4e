package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/castellan/paperweight/internal/common"
)

// newCustomAnalyzer creates a backend for a generic OpenAI-compatible
// endpoint: arbitrary base URL, API key and model name. The wire format is
// identical to OpenAI's, so the implementation reuses the OpenAI client
// with the base URL swapped out. An API key is optional here; many
// self-hosted servers do not check one.
func newCustomAnalyzer(cfg Config) (Analyzer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: custom backend base URL is required", common.ErrMissingConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: custom backend model is required", common.ErrMissingConfig)
	}

	contextSize := cfg.ContextLimit
	if contextSize == 0 {
		contextSize = 32768
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &openAIAnalyzer{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		contextSize: contextSize,
		temperature: cfg.Temperature,
		prompts:     newPromptBuilder(cfg),
		tokens:      newTokenCounter(cfg.Model),
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}
