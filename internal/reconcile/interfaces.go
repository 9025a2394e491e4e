package reconcile

import (
	"context"

	"github.com/castellan/paperweight/internal/model"
)

// Archive is the slice of the archive client the engine depends on.
type Archive interface {
	GetTags(ctx context.Context) ([]model.Tag, error)
	CreateTag(ctx context.Context, name string) (int, error)
	GetCorrespondents(ctx context.Context) ([]model.Correspondent, error)
	CreateCorrespondent(ctx context.Context, name string) (int, error)
	GetDocumentTypes(ctx context.Context) ([]model.DocumentType, error)
	CreateDocumentType(ctx context.Context, name string) (int, error)
	GetCustomFields(ctx context.Context) ([]model.CustomField, error)
	UpdateDocument(ctx context.Context, plan model.UpdatePlan) error
}

// Ledger is the slice of the processing ledger the engine depends on.
type Ledger interface {
	SetStatus(ctx context.Context, documentID int, status model.ProcessingStatus) error
	RecordMetrics(ctx context.Context, documentID, promptTokens, completionTokens, totalTokens int) error
	RecordHistory(ctx context.Context, documentID int, tags []string, title, correspondent string) error
	RecordOriginalSnapshot(ctx context.Context, documentID int, tags []string, correspondent, title string) error
}
