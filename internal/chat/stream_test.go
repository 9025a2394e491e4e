package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/paperweight/internal/provider"
)

// chunkedReader yields the underlying data in fixed-size pieces so line
// boundaries land mid-fragment, the way TCP delivers them.
type chunkedReader struct {
	data  string
	chunk int
	pos   int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.chunk
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func TestDemuxSSE(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name: "fragments in order until DONE",
			input: "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
				"data: [DONE]\n\n",
			expected: []string{"He", "llo"},
		},
		{
			name: "role-only and empty deltas are skipped",
			input: "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
				"data: [DONE]\n\n",
			expected: []string{"Hi"},
		},
		{
			name: "malformed events are skipped",
			input: "data: {not json at all\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
				"data: [DONE]\n\n",
			expected: []string{"ok"},
		},
		{
			name: "non-data lines are ignored",
			input: ": keepalive comment\n" +
				"event: message\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
				"data: [DONE]\n\n",
			expected: []string{"ok"},
		},
		{
			name: "stream ending without DONE still terminates",
			input: "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n",
			expected: []string{"partial"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := demuxSSE(strings.NewReader(tt.input), func(fragment string) error {
				got = append(got, fragment)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDemuxSSEArbitraryChunking(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	// Every chunk size must reassemble the same fragments.
	for chunk := 1; chunk <= 7; chunk++ {
		var got []string
		err := demuxSSE(&chunkedReader{data: input, chunk: chunk}, func(fragment string) error {
			got = append(got, fragment)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"He", "llo"}, got, "chunk size %d", chunk)
	}
}

func TestDemuxNDJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name: "fragments until done",
			input: `{"message":{"content":"He"},"done":false}` + "\n" +
				`{"message":{"content":"llo"},"done":false}` + "\n" +
				`{"message":{"content":""},"done":true}` + "\n",
			expected: []string{"He", "llo"},
		},
		{
			name: "malformed lines are skipped",
			input: `garbage` + "\n" +
				`{"message":{"content":"ok"},"done":true}` + "\n",
			expected: []string{"ok"},
		},
		{
			name: "final chunk may carry content",
			input: `{"message":{"content":"He"},"done":false}` + "\n" +
				`{"message":{"content":"llo"},"done":true}` + "\n",
			expected: []string{"He", "llo"},
		},
		{
			name:     "blank lines are ignored",
			input:    "\n\n" + `{"message":{"content":"ok"},"done":true}` + "\n",
			expected: []string{"ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := demuxNDJSON(strings.NewReader(tt.input), func(fragment string) error {
				got = append(got, fragment)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewStreamer(t *testing.T) {
	tests := []struct {
		name    string
		config  provider.Config
		wantURL string
		wantErr bool
	}{
		{
			name:    "openai default URL",
			config:  provider.Config{Backend: "openai", APIKey: "k"},
			wantURL: "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "ollama default URL",
			config:  provider.Config{Backend: "ollama"},
			wantURL: "http://localhost:11434/api/chat",
		},
		{
			name: "azure deployment URL",
			config: provider.Config{
				Backend:         "azure",
				APIKey:          "k",
				AzureEndpoint:   "https://example.openai.azure.com",
				AzureDeployment: "docs-gpt4o",
			},
			wantURL: "https://example.openai.azure.com/openai/deployments/docs-gpt4o/chat/completions?api-version=2024-02-15-preview",
		},
		{
			name:    "custom requires base URL",
			config:  provider.Config{Backend: "custom", Model: "qwen2.5"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			config:  provider.Config{Backend: "bard"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newStreamer(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, s.url)
		})
	}
}

func TestStreamerAgainstSSEServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	s, err := newStreamer(provider.Config{
		Backend: "custom",
		BaseURL: server.URL,
		Model:   "test-model",
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	var got []string
	err = s.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(fragment string) error {
		got = append(got, fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestStreamerBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	s, err := newStreamer(provider.Config{
		Backend: "custom",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	err = s.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(string) error {
		t.Fatal("no fragment expected")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
