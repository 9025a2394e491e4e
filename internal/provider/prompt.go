package provider

import (
	"fmt"
	"strings"
)

// jsonContract is appended to every prompt, including ad-hoc ones, so that
// even caller-supplied prompts keep the machine-readable response shape.
const jsonContract = "Return the result exclusively as a JSON object. Do not include any explanatory text, markdown fences, or commentary before or after the JSON."

// promptBuilder renders system prompts for analysis requests.
type promptBuilder struct {
	language      string
	promptTags    []string
	customFields  []string
	usePromptTags bool
}

func newPromptBuilder(cfg Config) *promptBuilder {
	return &promptBuilder{
		language:      cfg.Language,
		promptTags:    cfg.PromptTags,
		customFields:  cfg.CustomFields,
		usePromptTags: cfg.UsePromptTags,
	}
}

// System renders the full system prompt for a document analysis request.
func (b *promptBuilder) System(req AnalyzeRequest) string {
	var sb strings.Builder

	sb.WriteString("You are a document metadata assistant for a document archive. ")
	sb.WriteString("Analyze the document content provided by the user and propose metadata for it.\n\n")

	sb.WriteString("Respond with a JSON object containing exactly these keys:\n")
	sb.WriteString(`  "title": a concise, descriptive title for the document` + "\n")
	sb.WriteString(`  "correspondent": the sender or institution the document is from` + "\n")
	sb.WriteString(`  "tags": an array of tag names` + "\n")
	sb.WriteString(`  "document_type": the kind of document (e.g. invoice, contract, letter)` + "\n")
	sb.WriteString(`  "document_date": the document's own date in YYYY-MM-DD format` + "\n")
	sb.WriteString(`  "language": the ISO 639-1 code of the document language` + "\n")

	if len(b.customFields) > 0 {
		sb.WriteString(`  "custom_fields": an object following the template below` + "\n")
	}
	sb.WriteString("\n")

	if b.usePromptTags && len(b.promptTags) > 0 {
		// Constrained mode: the model may only pick from the configured vocabulary.
		sb.WriteString("You MUST select tags exclusively from this list; never invent new tags:\n")
		for _, tag := range b.promptTags {
			sb.WriteString(fmt.Sprintf("- %s\n", tag))
		}
		sb.WriteString("\n")
	} else if len(req.ExistingTags) > 0 {
		sb.WriteString("Prefer these existing tags where they fit, but you may propose new ones:\n")
		for _, tag := range req.ExistingTags {
			sb.WriteString(fmt.Sprintf("- %s\n", tag))
		}
		sb.WriteString("\n")
	}

	if len(req.ExistingCorrespondents) > 0 {
		sb.WriteString("Known correspondents (reuse an existing name when the document matches one):\n")
		for _, c := range req.ExistingCorrespondents {
			sb.WriteString(fmt.Sprintf("- %s\n", c))
		}
		sb.WriteString("\n")
	}

	if len(b.customFields) > 0 {
		sb.WriteString("Fill in the custom_fields object using this template:\n")
		sb.WriteString(b.customFieldTemplate())
		sb.WriteString("\nOmit any field the document gives you no evidence for. ")
		sb.WriteString("Encode monetary values as plain decimal strings with '.' as the decimal separator and no currency symbol (e.g. \"1234.56\").\n\n")
	}

	if b.language != "" {
		sb.WriteString(fmt.Sprintf("Write the title in %s.\n\n", b.language))
	}

	sb.WriteString(jsonContract)
	return sb.String()
}

// customFieldTemplate renders the configured field names as a
// fill-in-the-blank JSON object.
func (b *promptBuilder) customFieldTemplate() string {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, name := range b.customFields {
		sb.WriteString(fmt.Sprintf("  %q: \"...\"", name))
		if i < len(b.customFields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

// AdHoc renders the system prompt for playground-style requests: the caller
// prompt is substituted wholesale, with only the JSON contract appended.
func (b *promptBuilder) AdHoc(prompt string) string {
	return strings.TrimSpace(prompt) + "\n\n" + jsonContract
}
