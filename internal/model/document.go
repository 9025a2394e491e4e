// Package model defines the core domain types shared across the application.
package model

// Document is a snapshot of a document as held by the external archive.
// The archive owns these records; we read them and patch individual fields.
// CreatedDate uses the archive's YYYY-MM-DD form.
type Document struct {
	CreatedDate   string
	Title         string
	Language      string
	Content       string
	Tags          []int
	CustomFields  []CustomFieldBinding
	ID            int
	Correspondent int
	DocumentType  int
}

// Tag is an archive-side tag definition.
type Tag struct {
	Name string
	ID   int
}

// Correspondent is an archive-side correspondent definition.
type Correspondent struct {
	Name string
	ID   int
}

// DocumentType is an archive-side document type definition.
type DocumentType struct {
	Name string
	ID   int
}

// CustomField is an archive-side custom field definition.
type CustomField struct {
	Name string
	ID   int
}

// CustomFieldBinding binds a value to a custom field on one document.
type CustomFieldBinding struct {
	Value   string
	FieldID int
}
