// Package server exposes the HTTP surface: the webhook intake, the status
// endpoint, document chat and thumbnail proxying. Handlers are thin; all
// work happens in the pipeline and chat packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/paperweight/internal/chat"
	"github.com/castellan/paperweight/internal/pipeline"
)

// documentURLPattern extracts a document id from an archive document URL.
var documentURLPattern = regexp.MustCompile(`/documents/(\d+)/?`)

// Thumbnails is the slice of the archive client the server depends on.
type Thumbnails interface {
	Thumbnail(ctx context.Context, id int) ([]byte, error)
}

// Server wires the HTTP handlers to the pipeline and chat manager.
type Server struct {
	pipeline   *pipeline.Service
	chats      *chat.Manager
	thumbnails Thumbnails
	httpServer *http.Server
}

// New creates the HTTP server on the given listen address.
func New(addr string, p *pipeline.Service, chats *chat.Manager, thumbnails Thumbnails) *Server {
	s := &Server{
		pipeline:   p,
		chats:      chats,
		thumbnails: thumbnails,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webhook", s.handleWebhook)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/chat/{id}", s.handleChat)
	mux.HandleFunc("GET /api/documents/{id}/thumbnail", s.handleThumbnail)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// webhookRequest is the intake payload. The archive sends a document URL;
// the optional prompt overrides the analysis prompt for this document only.
type webhookRequest struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	match := documentURLPattern.FindStringSubmatch(req.URL)
	if match == nil {
		writeError(w, http.StatusBadRequest, "URL does not reference a document")
		return
	}
	documentID, err := strconv.Atoi(match[1])
	if err != nil || documentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	job := pipeline.Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Prompt:     req.Prompt,
	}
	if err := s.pipeline.Enqueue(job); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "processing queue is full")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue document")
		return
	}

	slog.Info("webhook accepted", "job_id", job.ID, "document_id", documentID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// chatRequest is one user turn.
type chatRequest struct {
	Message string `json:"message"`
}

// handleChat streams the reply as server-sent events: one
// data: {"content": ...} event per fragment, then data: [DONE].
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || documentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	streamErr := s.chats.Stream(r.Context(), documentID, req.Message, func(fragment string) error {
		event, err := json.Marshal(map[string]string{"content": fragment})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if streamErr != nil {
		// Headers are already sent; the error surfaces as a terminal event.
		slog.Error("chat stream failed", "document_id", documentID, "error", streamErr)
		fmt.Fprintf(w, "data: {\"error\":\"chat stream failed\"}\n\n")
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || documentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	data, err := s.thumbnails.Thumbnail(r.Context(), documentID)
	if err != nil {
		slog.Error("thumbnail fetch failed", "document_id", documentID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch thumbnail")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
