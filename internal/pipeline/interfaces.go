package pipeline

import (
	"context"

	"github.com/castellan/paperweight/internal/model"
	"github.com/castellan/paperweight/internal/provider"
)

// Archive is the slice of the archive client the pipeline depends on.
type Archive interface {
	ListDocuments(ctx context.Context) ([]model.Document, error)
	GetDocument(ctx context.Context, id int) (model.Document, error)
	GetContent(ctx context.Context, id int) (string, error)
	HasEditPermission(ctx context.Context, id int) (bool, error)
	GetTags(ctx context.Context) ([]model.Tag, error)
	GetCorrespondents(ctx context.Context) ([]model.Correspondent, error)
}

// Ledger is the slice of the processing ledger the pipeline depends on.
type Ledger interface {
	IsProcessed(ctx context.Context, documentID int) (bool, error)
	SetStatus(ctx context.Context, documentID int, status model.ProcessingStatus) error
}

// Reconciler merges analysis results into archive updates.
type Reconciler interface {
	Plan(ctx context.Context, result model.AnalysisResult, doc model.Document) (model.UpdatePlan, error)
	Commit(ctx context.Context, doc model.Document, plan model.UpdatePlan, result model.AnalysisResult, usage model.TokenUsage)
}

// Analyzer is re-exported here so mocks in tests only depend on this package.
type Analyzer = provider.Analyzer
