package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/paperweight/internal/model"
	"github.com/castellan/paperweight/internal/provider"
)

type stubArchive struct {
	mu         sync.Mutex
	docs       map[int]model.Document
	contents   map[int]string
	noEdit     map[int]bool
	listErr    error
	contentErr error
}

func newStubArchive() *stubArchive {
	return &stubArchive{
		docs:     make(map[int]model.Document),
		contents: make(map[int]string),
		noEdit:   make(map[int]bool),
	}
}

func (s *stubArchive) add(id int, content string) {
	s.docs[id] = model.Document{ID: id, Title: fmt.Sprintf("doc-%d", id)}
	s.contents[id] = content
}

func (s *stubArchive) ListDocuments(_ context.Context) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	docs := make([]model.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *stubArchive) GetDocument(_ context.Context, id int) (model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return model.Document{}, errors.New("not found")
	}
	return doc, nil
}

func (s *stubArchive) GetContent(_ context.Context, id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contentErr != nil {
		return "", s.contentErr
	}
	return s.contents[id], nil
}

func (s *stubArchive) HasEditPermission(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.noEdit[id], nil
}

func (s *stubArchive) GetTags(_ context.Context) ([]model.Tag, error) {
	return []model.Tag{{ID: 1, Name: "utility"}}, nil
}

func (s *stubArchive) GetCorrespondents(_ context.Context) ([]model.Correspondent, error) {
	return []model.Correspondent{{ID: 7, Name: "City Power"}}, nil
}

type stubLedger struct {
	mu       sync.Mutex
	statuses map[int]model.ProcessingStatus
}

func newStubLedger() *stubLedger {
	return &stubLedger{statuses: make(map[int]model.ProcessingStatus)}
}

func (s *stubLedger) IsProcessed(_ context.Context, documentID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[documentID] == model.StatusComplete, nil
}

func (s *stubLedger) SetStatus(_ context.Context, documentID int, status model.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[documentID] = status
	return nil
}

func (s *stubLedger) status(documentID int) model.ProcessingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[documentID]
}

type stubAnalyzer struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	resp    provider.AnalyzeResponse
}

func (s *stubAnalyzer) Analyze(_ context.Context, req provider.AnalyzeRequest) provider.AnalyzeResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, req.CustomPrompt)
	return s.resp
}

func (s *stubAnalyzer) AnalyzeAdHoc(_ context.Context, _, _ string) provider.AnalyzeResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.resp
}

func (s *stubAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubReconciler struct {
	mu      sync.Mutex
	commits int
}

func (s *stubReconciler) Plan(_ context.Context, _ model.AnalysisResult, doc model.Document) (model.UpdatePlan, error) {
	return model.UpdatePlan{DocumentID: doc.ID}, nil
}

func (s *stubReconciler) Commit(_ context.Context, _ model.Document, _ model.UpdatePlan, _ model.AnalysisResult, _ model.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func (s *stubReconciler) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func okResponse() provider.AnalyzeResponse {
	return provider.AnalyzeResponse{
		Result: model.AnalysisResult{Title: "Electricity Invoice", Tags: []string{"utility"}},
		Usage:  model.TokenUsage{Prompt: 800, Completion: 50, Total: 850},
	}
}

func newTestService(archive *stubArchive, ledger *stubLedger, analyzer *stubAnalyzer, rec *stubReconciler) *Service {
	return New(archive, ledger, analyzer, rec, Config{QueueSize: 4})
}

func TestProcessDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path marks complete and commits", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "City Power invoice for March electricity usage.")
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.Process(ctx, 9, ""))

		assert.Equal(t, 1, analyzer.callCount())
		assert.Equal(t, 1, rec.commitCount())
		assert.Equal(t, model.StatusComplete, ledger.status(9))
	})

	t.Run("processed document is skipped without provider call", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "City Power invoice for March electricity usage.")
		ledger := newStubLedger()
		require.NoError(t, ledger.SetStatus(ctx, 9, model.StatusComplete))
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.Process(ctx, 9, ""))

		assert.Zero(t, analyzer.callCount())
		assert.Zero(t, rec.commitCount())
	})

	t.Run("short content is skipped", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "   x   ")
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.Process(ctx, 9, ""))

		assert.Zero(t, analyzer.callCount())
		assert.NotEqual(t, model.StatusComplete, ledger.status(9))
	})

	t.Run("missing edit permission skips silently", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "City Power invoice for March electricity usage.")
		archive.noEdit[9] = true
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.Process(ctx, 9, ""))

		assert.Zero(t, analyzer.callCount())
	})

	t.Run("degraded analysis leaves document at processing", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "City Power invoice for March electricity usage.")
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: provider.AnalyzeResponse{
			Result: model.AnalysisResult{Tags: []string{}},
			Err:    "backend unreachable",
		}}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		err := svc.Process(ctx, 9, "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend unreachable")
		assert.Equal(t, model.StatusProcessing, ledger.status(9))
		assert.Zero(t, rec.commitCount())
	})

	t.Run("custom prompt is forwarded", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(9, "City Power invoice for March electricity usage.")
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.Process(ctx, 9, "Focus on tax relevance"))

		require.Len(t, analyzer.prompts, 1)
		assert.Equal(t, "Focus on tax relevance", analyzer.prompts[0])
	})
}

func TestScanOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("processes every unprocessed document", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(1, "First document with plenty of content to analyze.")
		archive.add(2, "Second document with plenty of content to analyze.")
		archive.add(3, "Third document with plenty of content to analyze.")
		ledger := newStubLedger()
		require.NoError(t, ledger.SetStatus(ctx, 2, model.StatusComplete))
		analyzer := &stubAnalyzer{resp: okResponse()}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.ScanOnce(ctx))

		assert.Equal(t, 2, analyzer.callCount())
		assert.Equal(t, model.StatusComplete, ledger.status(1))
		assert.Equal(t, model.StatusComplete, ledger.status(3))
	})

	t.Run("one failing document does not abort the batch", func(t *testing.T) {
		archive := newStubArchive()
		archive.add(1, "First document with plenty of content to analyze.")
		archive.add(2, "Second document with plenty of content to analyze.")
		ledger := newStubLedger()
		analyzer := &stubAnalyzer{resp: provider.AnalyzeResponse{
			Result: model.AnalysisResult{Tags: []string{}},
			Err:    "backend unreachable",
		}}
		rec := &stubReconciler{}
		svc := newTestService(archive, ledger, analyzer, rec)

		require.NoError(t, svc.ScanOnce(ctx))

		assert.Equal(t, 2, analyzer.callCount())
	})

	t.Run("list failure is reported", func(t *testing.T) {
		archive := newStubArchive()
		archive.listErr = errors.New("archive down")
		svc := newTestService(archive, newStubLedger(), &stubAnalyzer{}, &stubReconciler{})

		err := svc.ScanOnce(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "archive down")
	})
}

func TestEnqueue(t *testing.T) {
	svc := New(newStubArchive(), newStubLedger(), &stubAnalyzer{}, &stubReconciler{}, Config{QueueSize: 2})

	require.NoError(t, svc.Enqueue(Job{ID: "a", DocumentID: 1}))
	require.NoError(t, svc.Enqueue(Job{ID: "b", DocumentID: 2}))

	err := svc.Enqueue(Job{ID: "c", DocumentID: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStatus(t *testing.T) {
	svc := New(newStubArchive(), newStubLedger(), &stubAnalyzer{}, &stubReconciler{}, Config{QueueSize: 4})

	status := svc.Status()
	assert.False(t, status.IsProcessing)
	assert.Zero(t, status.QueueLength)
	assert.Zero(t, status.CurrentDocument)

	require.NoError(t, svc.Enqueue(Job{ID: "a", DocumentID: 1}))
	assert.Equal(t, 1, svc.Status().QueueLength)
}
