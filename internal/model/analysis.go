package model

// AnalysisResult holds the metadata an AI backend proposed for one document.
// Tag names and the correspondent are free text; they are resolved to
// archive ids during reconciliation.
type AnalysisResult struct {
	Title         string            `json:"title"`
	Correspondent string            `json:"correspondent"`
	DocumentType  string            `json:"document_type"`
	DocumentDate  string            `json:"document_date"`
	Language      string            `json:"language"`
	Tags          []string          `json:"tags"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
}

// TokenUsage reports token consumption for one provider invocation.
// An all-zero value means the backend did not report usage, not that the
// call was free.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Measured reports whether the backend actually returned usage numbers.
func (u TokenUsage) Measured() bool {
	return u.Prompt != 0 || u.Completion != 0 || u.Total != 0
}
