package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/model"
)

// extractJSONPattern matches the outermost JSON object in free text.
// Models frequently wrap their answer in prose or markdown fences.
var extractJSONPattern = regexp.MustCompile(`(?s)\{.*\}`)

// trailingCommaPattern matches a comma directly before a closing brace or bracket.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// bareKeyPattern matches unquoted object keys, e.g. `{title: "x"}`.
var bareKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// extractJSON pulls the first JSON object out of a free-text model reply.
func extractJSON(content string) (string, error) {
	content = cleanMarkdownWrapper(content)
	match := extractJSONPattern.FindString(content)
	if match == "" {
		return "", fmt.Errorf("%w: no JSON object found in response", common.ErrUnparseable)
	}
	return match, nil
}

// cleanMarkdownWrapper strips ```json fences a model may have added.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// sanitizeJSON repairs the two malformations models produce most often:
// trailing commas and unquoted object keys.
func sanitizeJSON(raw string) string {
	raw = trailingCommaPattern.ReplaceAllString(raw, "$1")
	raw = bareKeyPattern.ReplaceAllString(raw, `$1"$2"$3`)
	return raw
}

// parseAnalysis decodes a model reply into an AnalysisResult. The attempt is
// two-stage: parse as-is, then sanitize and reparse once. A reply that
// survives neither degrades to the empty-result sentinel with a logged
// warning; the error never crosses the gateway boundary as a panic or a
// raw Go error.
func parseAnalysis(content string) (model.AnalysisResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return degradedResult(), err
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return normalizeResult(result), nil
	}

	// One sanitize pass, then give up.
	repaired := sanitizeJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		slog.Warn("provider response unparseable after sanitize pass", "error", err)
		return degradedResult(), fmt.Errorf("%w: %v", common.ErrUnparseable, err)
	}

	return normalizeResult(result), nil
}

// degradedResult is the documented fallback shape: empty tags, no correspondent.
func degradedResult() model.AnalysisResult {
	return model.AnalysisResult{Tags: []string{}}
}

// normalizeResult trims whitespace and drops empty tag names.
func normalizeResult(result model.AnalysisResult) model.AnalysisResult {
	result.Title = strings.TrimSpace(result.Title)
	result.Correspondent = strings.TrimSpace(result.Correspondent)
	result.DocumentType = strings.TrimSpace(result.DocumentType)
	result.DocumentDate = strings.TrimSpace(result.DocumentDate)
	result.Language = strings.TrimSpace(result.Language)

	tags := make([]string, 0, len(result.Tags))
	for _, tag := range result.Tags {
		if t := strings.TrimSpace(tag); t != "" {
			tags = append(tags, t)
		}
	}
	result.Tags = tags
	return result
}
