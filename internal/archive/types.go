package archive

import "github.com/castellan/paperweight/internal/model"

// listEnvelope is the archive's paginated list response.
type listEnvelope[T any] struct {
	Next    *string `json:"next"`
	Results []T    `json:"results"`
	Count   int    `json:"count"`
}

// documentPayload is the archive's document detail representation.
type documentPayload struct {
	Title         string             `json:"title"`
	Content       string             `json:"content"`
	Created       string             `json:"created_date"`
	Language      string             `json:"language,omitempty"`
	Tags          []int              `json:"tags"`
	CustomFields  []customFieldValue `json:"custom_fields"`
	ID            int                `json:"id"`
	Correspondent *int               `json:"correspondent"`
	DocumentType  *int               `json:"document_type"`
	UserCanChange *bool              `json:"user_can_change,omitempty"`
}

// customFieldValue is one bound custom field on a document.
type customFieldValue struct {
	Value any `json:"value"`
	Field int `json:"field"`
}

// namedResource covers tags, correspondents and document types, which all
// share the same id/name shape.
type namedResource struct {
	Name string `json:"name"`
	ID   int   `json:"id"`
}

// updatePayload is the partial-update body for PATCH requests. Nil fields
// are omitted so the archive leaves them untouched.
type updatePayload struct {
	Title         *string            `json:"title,omitempty"`
	Correspondent *int               `json:"correspondent,omitempty"`
	DocumentType  *int               `json:"document_type,omitempty"`
	Created       *string            `json:"created_date,omitempty"`
	Language      *string            `json:"language,omitempty"`
	Tags          []int              `json:"tags,omitempty"`
	CustomFields  []customFieldValue `json:"custom_fields,omitempty"`
}

// toModel converts a wire document into the domain shape.
func (p documentPayload) toModel() model.Document {
	doc := model.Document{
		ID:          p.ID,
		Title:       p.Title,
		CreatedDate: p.Created,
		Language:    p.Language,
		Content:     p.Content,
		Tags:        p.Tags,
	}
	if p.Correspondent != nil {
		doc.Correspondent = *p.Correspondent
	}
	if p.DocumentType != nil {
		doc.DocumentType = *p.DocumentType
	}
	for _, cf := range p.CustomFields {
		doc.CustomFields = append(doc.CustomFields, model.CustomFieldBinding{
			FieldID: cf.Field,
			Value:   stringify(cf.Value),
		})
	}
	return doc
}
