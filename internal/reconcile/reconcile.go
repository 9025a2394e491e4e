// Package reconcile merges an AI analysis result with a document's prior
// state and per-feature activation flags into a minimal update payload,
// then commits the resulting side effects.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/castellan/paperweight/internal/model"
)

// Flags activate individual enrichment features independently.
type Flags struct {
	// MarkerTag, when set while Tagging is off, is applied instead of any
	// AI-proposed tags to mark a document as AI-processed.
	MarkerTag     string
	Tagging       bool
	Correspondent bool
	DocumentType  bool
	Title         bool
	CustomFields  bool
}

// Engine computes and commits update plans.
type Engine struct {
	archive Archive
	ledger  Ledger
	flags   Flags
}

// New creates a reconciliation engine.
func New(archive Archive, ledger Ledger, flags Flags) *Engine {
	return &Engine{archive: archive, ledger: ledger, flags: flags}
}

// Plan computes the minimal update for one document. Fields appear in the
// plan only when their feature flag is active and the analysis produced a
// non-empty value. Tag creation failures are logged and skipped; partial
// tag application is acceptable.
func (e *Engine) Plan(ctx context.Context, result model.AnalysisResult, doc model.Document) (model.UpdatePlan, error) {
	plan := model.UpdatePlan{DocumentID: doc.ID}

	if err := e.planTags(ctx, &plan, result); err != nil {
		return plan, err
	}

	if e.flags.Correspondent && result.Correspondent != "" {
		id, err := e.resolveCorrespondent(ctx, result.Correspondent)
		if err != nil {
			return plan, err
		}
		plan.Correspondent = &id
	}

	if e.flags.DocumentType && result.DocumentType != "" {
		id, err := e.resolveDocumentType(ctx, result.DocumentType)
		if err != nil {
			return plan, err
		}
		plan.DocumentType = &id
	}

	if e.flags.Title && result.Title != "" {
		title := result.Title
		plan.Title = &title
	}

	// Date and language are core fields: always propagated when present,
	// independent of any flag.
	if result.DocumentDate != "" {
		date := result.DocumentDate
		plan.CreatedDate = &date
	}
	if result.Language != "" {
		lang := result.Language
		plan.Language = &lang
	}

	if e.flags.CustomFields && len(result.CustomFields) > 0 {
		bindings, err := e.planCustomFields(ctx, result, doc)
		if err != nil {
			return plan, err
		}
		plan.CustomFields = bindings
	}

	return plan, nil
}

// planTags fills the plan's tag set. With tagging active, every proposed
// name is resolved or created. With tagging off but a marker tag
// configured, only the marker is applied and AI proposals are ignored.
func (e *Engine) planTags(ctx context.Context, plan *model.UpdatePlan, result model.AnalysisResult) error {
	switch {
	case e.flags.Tagging:
		if len(result.Tags) == 0 {
			return nil
		}
		ids, err := e.resolveTags(ctx, result.Tags)
		if err != nil {
			return err
		}
		plan.Tags = ids
	case e.flags.MarkerTag != "":
		ids, err := e.resolveTags(ctx, []string{e.flags.MarkerTag})
		if err != nil {
			return err
		}
		plan.Tags = ids
	}
	return nil
}

// resolveTags maps tag names to archive ids, creating missing tags.
// Name matching is case-insensitive; duplicates in the proposal collapse
// to one id. Creation errors are aggregated as warnings, not failures.
func (e *Engine) resolveTags(ctx context.Context, names []string) ([]int, error) {
	existing, err := e.archive.GetTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}

	byName := make(map[string]int, len(existing))
	for _, tag := range existing {
		byName[strings.ToLower(tag.Name)] = tag.ID
	}

	var ids []int
	seen := make(map[int]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		id, ok := byName[strings.ToLower(name)]
		if !ok {
			created, createErr := e.archive.CreateTag(ctx, name)
			if createErr != nil {
				slog.Warn("failed to create tag, skipping",
					"tag", name,
					"error", createErr)
				continue
			}
			id = created
			byName[strings.ToLower(name)] = id
		}

		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// resolveCorrespondent finds a correspondent by exact name or creates it.
func (e *Engine) resolveCorrespondent(ctx context.Context, name string) (int, error) {
	existing, err := e.archive.GetCorrespondents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load correspondents: %w", err)
	}
	for _, c := range existing {
		if c.Name == name {
			return c.ID, nil
		}
	}
	id, err := e.archive.CreateCorrespondent(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create correspondent %q: %w", name, err)
	}
	return id, nil
}

// resolveDocumentType finds a document type by exact name or creates it.
func (e *Engine) resolveDocumentType(ctx context.Context, name string) (int, error) {
	existing, err := e.archive.GetDocumentTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load document types: %w", err)
	}
	for _, t := range existing {
		if t.Name == name {
			return t.ID, nil
		}
	}
	id, err := e.archive.CreateDocumentType(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create document type %q: %w", name, err)
	}
	return id, nil
}

// planCustomFields stages AI-proposed field values and carries forward every
// previously bound field the analysis did not touch. New values strictly
// replace old values for the same field id; untouched bindings persist
// verbatim; nothing is silently dropped.
func (e *Engine) planCustomFields(ctx context.Context, result model.AnalysisResult, doc model.Document) ([]model.CustomFieldBinding, error) {
	definitions, err := e.archive.GetCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom fields: %w", err)
	}

	byName := make(map[string]int, len(definitions))
	for _, def := range definitions {
		byName[strings.ToLower(def.Name)] = def.ID
	}

	var bindings []model.CustomFieldBinding
	touched := make(map[int]bool)

	for name, value := range result.CustomFields {
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}

		fieldID, ok := byName[strings.ToLower(name)]
		if !ok {
			slog.Warn("AI proposed unknown custom field, skipping",
				"field", name,
				"document_id", doc.ID)
			continue
		}

		bindings = append(bindings, model.CustomFieldBinding{FieldID: fieldID, Value: value})
		touched[fieldID] = true
	}

	// Preserve previously bound fields the analysis did not touch.
	for _, prior := range doc.CustomFields {
		if !touched[prior.FieldID] {
			bindings = append(bindings, prior)
		}
	}

	return bindings, nil
}

// Commit applies a computed plan: archive update, completion status, token
// metrics, a before/after audit snapshot and a human-readable history
// entry. The writes run concurrently as one logical unit but are not
// transactional: individual failures are logged, never rolled back.
func (e *Engine) Commit(ctx context.Context, doc model.Document, plan model.UpdatePlan, result model.AnalysisResult, usage model.TokenUsage) {
	appliedTitle := doc.Title
	if plan.Title != nil {
		appliedTitle = *plan.Title
	}

	var g errgroup.Group

	g.Go(func() error {
		if err := e.archive.UpdateDocument(ctx, plan); err != nil {
			slog.Error("failed to apply document update",
				"document_id", doc.ID,
				"error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := e.ledger.SetStatus(ctx, doc.ID, model.StatusComplete); err != nil {
			slog.Error("failed to mark document complete",
				"document_id", doc.ID,
				"error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := e.ledger.RecordMetrics(ctx, doc.ID, usage.Prompt, usage.Completion, usage.Total); err != nil {
			slog.Error("failed to record token metrics",
				"document_id", doc.ID,
				"error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := e.ledger.RecordOriginalSnapshot(ctx, doc.ID, tagIDStrings(doc.Tags), strconv.Itoa(doc.Correspondent), doc.Title); err != nil {
			slog.Error("failed to record original snapshot",
				"document_id", doc.ID,
				"error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := e.ledger.RecordHistory(ctx, doc.ID, result.Tags, appliedTitle, result.Correspondent); err != nil {
			slog.Error("failed to record history entry",
				"document_id", doc.ID,
				"error", err)
		}
		return nil
	})

	_ = g.Wait()
}

// tagIDStrings renders prior tag ids for the audit snapshot.
func tagIDStrings(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Itoa(id)
	}
	return out
}
