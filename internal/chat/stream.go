package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/provider"
)

// maxStreamLine bounds a single streamed line. Model output arrives in
// small deltas, but a misbehaving backend could emit one huge line.
const maxStreamLine = 1024 * 1024

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamer issues a streaming completion request and demuxes the backend's
// wire format into plain content fragments. OpenAI-compatible backends
// stream SSE "data:" events; Ollama streams newline-delimited JSON. Both
// collapse to the same emit callback.
type streamer struct {
	httpClient  *http.Client
	backend     string
	apiKey      string
	model       string
	url         string
	temperature float64
}

func newStreamer(cfg provider.Config) (*streamer, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	s := &streamer{
		httpClient:  &http.Client{Timeout: timeout},
		backend:     strings.ToLower(cfg.Backend),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}

	switch s.backend {
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		if s.model == "" {
			s.model = "gpt-4o"
		}
		s.url = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: custom backend requires a base URL", common.ErrMissingConfig)
		}
		if s.model == "" {
			return nil, fmt.Errorf("%w: custom backend requires a model name", common.ErrMissingConfig)
		}
		s.url = strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions"
	case "azure":
		if cfg.APIKey == "" || cfg.AzureEndpoint == "" || cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("%w: Azure backend requires api key, endpoint and deployment", common.ErrMissingConfig)
		}
		apiVersion := cfg.AzureAPIVersion
		if apiVersion == "" {
			apiVersion = "2024-02-15-preview"
		}
		s.url = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimSuffix(cfg.AzureEndpoint, "/"), cfg.AzureDeployment, apiVersion)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if s.model == "" {
			s.model = "llama3.2"
		}
		s.url = strings.TrimSuffix(baseURL, "/") + "/api/chat"
	default:
		return nil, fmt.Errorf("%w: unsupported AI backend: %s", common.ErrInvalidConfig, cfg.Backend)
	}

	return s, nil
}

// Stream runs one streaming completion, invoking emit for every content
// fragment in arrival order. It returns once the backend signals the end
// of the stream or emit returns an error.
func (s *streamer) Stream(ctx context.Context, messages []Message, emit func(fragment string) error) error {
	payload := map[string]any{
		"messages":    messages,
		"stream":      true,
		"temperature": s.temperature,
	}
	if s.backend != "azure" {
		payload["model"] = s.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch s.backend {
	case "azure":
		httpReq.Header.Set("api-key", s.apiKey)
	default:
		if s.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
		}
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call chat backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chat backend returned status %d: %s", resp.StatusCode, string(raw))
	}

	if s.backend == "ollama" {
		return demuxNDJSON(resp.Body, emit)
	}
	return demuxSSE(resp.Body, emit)
}

// sseDelta is the slice of an OpenAI-compatible stream event we care about.
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// demuxSSE reads "data:" events until the [DONE] sentinel. Lines that do
// not parse are skipped; a delta split across TCP reads is reassembled by
// the line scanner, so fragments always emit whole.
func demuxSSE(r io.Reader, emit func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var event sseDelta
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(event.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read chat stream: %w", err)
	}
	return nil
}

// ndjsonChunk is one line of an Ollama chat stream.
type ndjsonChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// demuxNDJSON reads newline-delimited JSON chunks until done is set.
func demuxNDJSON(r io.Reader, emit func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ndjsonChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			if err := emit(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read chat stream: %w", err)
	}
	return nil
}
