package provider

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ContentHardCap is the absolute character limit applied to document content
// before any backend dispatch.
const ContentHardCap = 50000

// reservedResponseTokens is headroom left for the model's reply when
// computing the token budget.
const reservedResponseTokens = 1000

// hardTruncate caps content at the character limit.
func hardTruncate(content string) string {
	if len(content) <= ContentHardCap {
		return content
	}
	return content[:ContentHardCap]
}

// tokenCounter counts tokens for a specific model.
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// newTokenCounter builds a counter for the given model. Models without a
// known tiktoken encoding fall back to a chars/4 estimate.
func newTokenCounter(modelName string) *tokenCounter {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		// Unknown model: local and custom backends land here.
		return &tokenCounter{}
	}
	return &tokenCounter{encoding: enc}
}

// Count returns the token count of text.
func (t *tokenCounter) Count(text string) int {
	if t.encoding == nil {
		return len(text) / 4
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// FitBudget trims content so the whole request stays inside the model
// context window: contextLimit - systemPromptTokens - reservedResponseTokens.
// Content already within budget is returned unchanged.
func (t *tokenCounter) FitBudget(content, systemPrompt string, contextLimit int) string {
	if contextLimit <= 0 {
		return content
	}

	budget := contextLimit - t.Count(systemPrompt) - reservedResponseTokens
	if budget <= 0 {
		return ""
	}
	if t.Count(content) <= budget {
		return content
	}

	if t.encoding != nil {
		tokens := t.encoding.Encode(content, nil, nil)
		return t.encoding.Decode(tokens[:budget])
	}

	// Estimate-based trim; drop any UTF-8 sequence cut at the boundary.
	limit := budget * 4
	if limit >= len(content) {
		return content
	}
	return strings.ToValidUTF8(content[:limit], "")
}
