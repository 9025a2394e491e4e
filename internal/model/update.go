package model

// UpdatePlan is the minimal patch computed by the reconciliation engine.
// Pointer fields are nil when the corresponding feature produced nothing;
// nil fields are omitted from the archive update entirely.
type UpdatePlan struct {
	Title         *string
	Correspondent *int
	DocumentType  *int
	CreatedDate   *string
	Language      *string
	Tags          []int
	CustomFields  []CustomFieldBinding
	DocumentID    int
}

// Empty reports whether the plan carries no changes at all.
func (p UpdatePlan) Empty() bool {
	return p.Title == nil &&
		p.Correspondent == nil &&
		p.DocumentType == nil &&
		p.CreatedDate == nil &&
		p.Language == nil &&
		p.Tags == nil &&
		p.CustomFields == nil
}
