// Package pipeline drives per-document AI analysis. Two entry points feed
// one shared routine: a scheduled full scan of the archive and a
// webhook-fed FIFO consumed by a single worker goroutine. The ledger's
// processing marker plus a per-document single-flight group provide
// at-most-once semantics across both entry points.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/castellan/paperweight/internal/model"
	"github.com/castellan/paperweight/internal/provider"
)

// minContentLength is the minimum viable content size; anything shorter is
// skipped without a provider call.
const minContentLength = 10

// ErrQueueFull is returned when the webhook FIFO cannot accept more work.
var ErrQueueFull = errors.New("processing queue is full")

// Job is one webhook-submitted unit of work.
type Job struct {
	// ID correlates log lines for one submission.
	ID         string
	Prompt     string
	DocumentID int
}

// Status describes the pipeline's current activity.
type Status struct {
	IsProcessing    bool `json:"isProcessing"`
	QueueLength     int  `json:"queueLength"`
	CurrentDocument int  `json:"currentDocument"`
}

// Config holds pipeline configuration.
type Config struct {
	// ScanInterval between scheduled full scans; zero disables them.
	ScanInterval time.Duration

	// QueueSize bounds the webhook FIFO.
	QueueSize int
}

// Service owns the work queue and its single consumer. It is injected into
// the HTTP layer rather than accessed as package state.
type Service struct {
	archive    Archive
	ledger     Ledger
	analyzer   Analyzer
	reconciler Reconciler
	jobs       chan Job
	flight     singleflight.Group
	scanInt    time.Duration
	scanning   atomic.Bool
	current    atomic.Int64
}

// New creates a pipeline service.
func New(archive Archive, ledger Ledger, analyzer Analyzer, reconciler Reconciler, cfg Config) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	return &Service{
		archive:    archive,
		ledger:     ledger,
		analyzer:   analyzer,
		reconciler: reconciler,
		jobs:       make(chan Job, queueSize),
		scanInt:    cfg.ScanInterval,
	}
}

// Enqueue appends a webhook job to the FIFO. It never blocks; a full queue
// returns ErrQueueFull.
func (s *Service) Enqueue(job Job) error {
	select {
	case s.jobs <- job:
		slog.Debug("job enqueued",
			"job_id", job.ID,
			"document_id", job.DocumentID,
			"queue_length", len(s.jobs))
		return nil
	default:
		slog.Warn("queue full, dropping webhook job",
			"job_id", job.ID,
			"document_id", job.DocumentID)
		return fmt.Errorf("%w: dropping document %d", ErrQueueFull, job.DocumentID)
	}
}

// Status reports current pipeline activity for the status endpoint.
func (s *Service) Status() Status {
	current := int(s.current.Load())
	return Status{
		IsProcessing:    s.scanning.Load() || current != 0,
		QueueLength:     len(s.jobs),
		CurrentDocument: current,
	}
}

// Run starts the queue consumer and, when configured, the scan scheduler.
// It blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	if s.scanInt > 0 {
		go s.runScheduler(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline shutting down", "queued", len(s.jobs))
			return
		case job := <-s.jobs:
			if err := s.Process(ctx, job.DocumentID, job.Prompt); err != nil {
				slog.Error("webhook document processing failed",
					"job_id", job.ID,
					"document_id", job.DocumentID,
					"error", err)
			}
		}
	}
}

// runScheduler triggers full scans on the configured interval.
func (s *Service) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.scanInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("scheduled scan failed", "error", err)
			}
		}
	}
}

// ScanOnce enumerates the archive and runs every document through the
// per-document routine sequentially. A scan already in progress makes this
// a no-op; per-document failures never abort the batch.
func (s *Service) ScanOnce(ctx context.Context) error {
	if !s.scanning.CompareAndSwap(false, true) {
		slog.Debug("scan already in progress, skipping")
		return nil
	}
	defer s.scanning.Store(false)

	docs, err := s.archive.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate archive: %w", err)
	}

	slog.Info("starting archive scan", "documents", len(docs))

	var failures int
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Batch path never supplies a custom prompt.
		if err := s.Process(ctx, doc.ID, ""); err != nil {
			failures++
			slog.Error("document processing failed",
				"document_id", doc.ID,
				"error", err)
		}
	}

	slog.Info("archive scan complete",
		"documents", len(docs),
		"failures", failures)
	return nil
}

// Process runs the per-document routine shared by both entry points. A
// single-flight group keyed by document id collapses near-simultaneous
// pickups by the scan and a webhook into one execution.
func (s *Service) Process(ctx context.Context, documentID int, prompt string) error {
	_, err, _ := s.flight.Do(strconv.Itoa(documentID), func() (any, error) {
		return nil, s.process(ctx, documentID, prompt)
	})
	return err
}

func (s *Service) process(ctx context.Context, documentID int, prompt string) error {
	// Already complete: silent idempotent skip, no provider call, no writes.
	processed, err := s.ledger.IsProcessed(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if processed {
		return nil
	}

	s.current.Store(int64(documentID))
	defer s.current.Store(0)

	if err := s.ledger.SetStatus(ctx, documentID, model.StatusProcessing); err != nil {
		return fmt.Errorf("failed to claim document: %w", err)
	}

	// Missing edit permission is a normal outcome, not a failure.
	allowed, err := s.archive.HasEditPermission(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to check permissions: %w", err)
	}
	if !allowed {
		slog.Info("skipping document without edit permission", "document_id", documentID)
		return nil
	}

	// Content, snapshot and prompt vocabulary are independent reads.
	var (
		content        string
		doc            model.Document
		tags           []model.Tag
		correspondents []model.Correspondent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var fetchErr error
		content, fetchErr = s.archive.GetContent(gctx, documentID)
		return fetchErr
	})
	g.Go(func() error {
		var fetchErr error
		doc, fetchErr = s.archive.GetDocument(gctx, documentID)
		return fetchErr
	})
	g.Go(func() error {
		var fetchErr error
		tags, fetchErr = s.archive.GetTags(gctx)
		return fetchErr
	})
	g.Go(func() error {
		var fetchErr error
		correspondents, fetchErr = s.archive.GetCorrespondents(gctx)
		return fetchErr
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to fetch document %d: %w", documentID, err)
	}

	if len(strings.TrimSpace(content)) < minContentLength {
		slog.Info("skipping document with too little content",
			"document_id", documentID,
			"length", len(content))
		return nil
	}

	if len(content) > provider.ContentHardCap {
		content = content[:provider.ContentHardCap]
	}

	tagNames := make([]string, len(tags))
	for i, t := range tags {
		tagNames[i] = t.Name
	}
	correspondentNames := make([]string, len(correspondents))
	for i, c := range correspondents {
		correspondentNames[i] = c.Name
	}

	resp := s.analyzer.Analyze(ctx, provider.AnalyzeRequest{
		Content:                content,
		CustomPrompt:           prompt,
		ExistingTags:           tagNames,
		ExistingCorrespondents: correspondentNames,
		DocumentID:             documentID,
	})
	if resp.Failed() {
		// Leave the ledger at "processing" so the next scan retries it.
		return fmt.Errorf("provider analysis failed: %s", resp.Err)
	}

	if err := s.ledger.SetStatus(ctx, documentID, model.StatusComplete); err != nil {
		return fmt.Errorf("failed to mark document complete: %w", err)
	}

	plan, err := s.reconciler.Plan(ctx, resp.Result, doc)
	if err != nil {
		return fmt.Errorf("failed to plan update: %w", err)
	}
	s.reconciler.Commit(ctx, doc, plan, resp.Result, resp.Usage)

	slog.Info("document enriched",
		"document_id", documentID,
		"tags", len(plan.Tags),
		"tokens", resp.Usage.Total)
	return nil
}
