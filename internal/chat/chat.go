// Package chat provides per-document conversations over the same AI
// backends the analysis gateway uses. Each document gets an in-memory
// session seeded with its full content; replies stream back as they are
// generated, normalized to one wire format regardless of backend.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/castellan/paperweight/internal/model"
	"github.com/castellan/paperweight/internal/provider"
)

// Archive is the slice of the archive client the chat manager depends on.
type Archive interface {
	GetDocument(ctx context.Context, id int) (model.Document, error)
	GetContent(ctx context.Context, id int) (string, error)
}

// Config holds chat session bounds.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
}

// Manager runs document conversations. One session per document id; the
// conversation seed and the streaming transport are both internal.
type Manager struct {
	archive  Archive
	streamer *streamer
	store    *sessionStore
}

// New creates a chat manager over the configured backend.
func New(archive Archive, providerCfg provider.Config, cfg Config) (*Manager, error) {
	s, err := newStreamer(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat backend: %w", err)
	}
	return &Manager{
		archive:  archive,
		streamer: s,
		store:    newSessionStore(cfg.MaxSessions, cfg.IdleTimeout),
	}, nil
}

// Stream sends one user message in the document's conversation and invokes
// emit for every reply fragment. The assembled reply joins the history only
// after the stream completes, so a failed turn leaves the session at its
// previous state.
func (m *Manager) Stream(ctx context.Context, documentID int, message string, emit func(fragment string) error) error {
	history := m.store.history(documentID)
	if history == nil {
		seed, err := m.seed(ctx, documentID)
		if err != nil {
			return err
		}
		history = []Message{seed}
	}

	history = append(history, Message{Role: "user", Content: message})

	var reply string
	err := m.streamer.Stream(ctx, history, func(fragment string) error {
		reply += fragment
		return emit(fragment)
	})
	if err != nil {
		return fmt.Errorf("failed to stream chat reply for document %d: %w", documentID, err)
	}

	history = append(history, Message{Role: "assistant", Content: reply})
	m.store.put(documentID, history)
	return nil
}

// Reset discards the document's conversation.
func (m *Manager) Reset(documentID int) {
	m.store.drop(documentID)
}

// seed builds the system message carrying the document's content.
func (m *Manager) seed(ctx context.Context, documentID int) (Message, error) {
	doc, err := m.archive.GetDocument(ctx, documentID)
	if err != nil {
		return Message{}, fmt.Errorf("failed to fetch document %d: %w", documentID, err)
	}
	content, err := m.archive.GetContent(ctx, documentID)
	if err != nil {
		return Message{}, fmt.Errorf("failed to fetch document %d content: %w", documentID, err)
	}

	return Message{
		Role: "system",
		Content: fmt.Sprintf(
			"You are a helpful assistant answering questions about a single document.\n"+
				"Answer only from the document below. When the document does not contain "+
				"the answer, say so.\n\nTitle: %s\n\nContent:\n%s",
			doc.Title, content),
	}, nil
}
