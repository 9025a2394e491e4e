package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzer(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "openai with key",
			config:  Config{Backend: "openai", APIKey: "test-key"},
			wantErr: false,
		},
		{
			name:    "openai without key",
			config:  Config{Backend: "openai"},
			wantErr: true,
		},
		{
			name:    "ollama needs nothing",
			config:  Config{Backend: "ollama"},
			wantErr: false,
		},
		{
			name: "azure fully configured",
			config: Config{
				Backend:         "azure",
				APIKey:          "test-key",
				AzureEndpoint:   "https://example.openai.azure.com",
				AzureDeployment: "gpt-4o",
			},
			wantErr: false,
		},
		{
			name:    "azure without deployment",
			config:  Config{Backend: "azure", APIKey: "test-key", AzureEndpoint: "https://example.openai.azure.com"},
			wantErr: true,
		},
		{
			name:    "custom without base URL",
			config:  Config{Backend: "custom", Model: "qwen2.5"},
			wantErr: true,
		},
		{
			name:    "custom without model",
			config:  Config{Backend: "custom", BaseURL: "http://localhost:8000/v1"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			config:  Config{Backend: "bard"},
			wantErr: true,
		},
		{
			name:    "backend name is case insensitive",
			config:  Config{Backend: "OpenAI", APIKey: "test-key"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer, err := New(tt.config)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, analyzer)
			}
		})
	}
}

// newTestAnalyzer builds an OpenAI-compatible analyzer pointed at a test server.
func newTestAnalyzer(t *testing.T, serverURL string) Analyzer {
	t.Helper()
	analyzer, err := New(Config{
		Backend: "custom",
		BaseURL: serverURL,
		Model:   "test-model",
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return analyzer
}

func TestOpenAIAnalyze(t *testing.T) {
	var capturedAuth string
	var capturedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

		response := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"title": "Electricity Invoice March", "correspondent": "City Power", "tags": ["utility", "invoice"], "document_type": "invoice", "document_date": "2024-03-14", "language": "en"}`,
				}},
			},
			"usage": map[string]int{
				"prompt_tokens":     820,
				"completion_tokens": 64,
				"total_tokens":      884,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	analyzer := newTestAnalyzer(t, server.URL)

	resp := analyzer.Analyze(context.Background(), AnalyzeRequest{
		Content:      "City Power invoice for March electricity usage, 84.20 EUR due April 1.",
		ExistingTags: []string{"utility"},
	})

	require.False(t, resp.Failed(), "unexpected failure: %s", resp.Err)
	assert.Equal(t, "Electricity Invoice March", resp.Result.Title)
	assert.Equal(t, "City Power", resp.Result.Correspondent)
	assert.Equal(t, []string{"utility", "invoice"}, resp.Result.Tags)
	assert.Equal(t, "2024-03-14", resp.Result.DocumentDate)

	assert.Equal(t, 820, resp.Usage.Prompt)
	assert.Equal(t, 64, resp.Usage.Completion)
	assert.Equal(t, 884, resp.Usage.Total)
	assert.True(t, resp.Usage.Measured())

	assert.Equal(t, "Bearer test-key", capturedAuth)
	assert.Equal(t, "test-model", capturedBody["model"])

	messages, ok := capturedBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	system, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "- utility")
}

func TestOpenAIAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errPart string
	}{
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error": "boom"}`,
			errPart: "status 500",
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error": "slow down"}`,
			errPart: "status 429",
		},
		{
			name:    "no choices",
			status:  http.StatusOK,
			body:    `{"choices": []}`,
			errPart: "no completion choices",
		},
		{
			name:    "unparseable model reply",
			status:  http.StatusOK,
			body:    `{"choices": [{"message": {"role": "assistant", "content": "I refuse."}}]}`,
			errPart: "no JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			analyzer := newTestAnalyzer(t, server.URL)
			resp := analyzer.Analyze(context.Background(), AnalyzeRequest{Content: "doc"})

			// Every failure mode degrades instead of erroring out.
			assert.True(t, resp.Failed())
			assert.Contains(t, resp.Err, tt.errPart)
			assert.NotNil(t, resp.Result.Tags)
			assert.Empty(t, resp.Result.Tags)
			assert.Empty(t, resp.Result.Correspondent)
			assert.False(t, resp.Usage.Measured())
		})
	}
}

func TestOpenAIAnalyzeAdHoc(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		messages := body["messages"].([]any)
		system := messages[0].(map[string]any)
		assert.Contains(t, system["content"], "List every deadline")
		assert.Contains(t, system["content"], "exclusively as a JSON object")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"title": "Deadlines"}`}},
			},
		})
	}))
	defer server.Close()

	analyzer := newTestAnalyzer(t, server.URL)
	resp := analyzer.AnalyzeAdHoc(context.Background(), "contract text", "List every deadline")

	require.False(t, resp.Failed())
	assert.Equal(t, "Deadlines", resp.Result.Title)
}

func TestOpenAICustomPromptOverridesSystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		messages := body["messages"].([]any)
		system := messages[0].(map[string]any)
		assert.Contains(t, system["content"], "Focus on tax relevance")
		assert.NotContains(t, system["content"], "document metadata assistant")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"title": "Tax Notes"}`}},
			},
		})
	}))
	defer server.Close()

	analyzer := newTestAnalyzer(t, server.URL)
	resp := analyzer.Analyze(context.Background(), AnalyzeRequest{
		Content:      "doc",
		CustomPrompt: "Focus on tax relevance",
	})

	require.False(t, resp.Failed())
}
