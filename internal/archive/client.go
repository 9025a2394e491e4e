// Package archive implements the REST client for the external document
// management system. The archive owns all document data; this client reads
// documents and applies partial updates computed by the reconciliation
// engine.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/model"
)

// Client talks to the document archive's REST API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
}

// Config holds archive client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// RequestsPerSecond throttles calls against the archive; zero uses the
	// default of 10 req/s.
	RequestsPerSecond float64
}

// NewClient creates a new archive client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: archive base URL is required", common.ErrMissingConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: archive API token is required", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// do performs one rate-limited request with retries on transient failures
// and returns the response body.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var respBody []byte
	err := common.WithRetry(ctx, func() error {
		var attemptErr error
		respBody, attemptErr = c.attempt(ctx, method, path, jsonBody)
		return attemptErr
	}, common.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})
	return respBody, err
}

// attempt performs a single request. Server-side failures come back as
// retryable errors; client-side ones do not.
func (c *Client) attempt(ctx context.Context, method, path string, jsonBody []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("rate limiter canceled: %w", err),
			Retryable: false,
		}
	}

	var reader io.Reader
	if jsonBody != nil {
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("failed to create request: %w", err),
			Retryable: false,
		}
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("request failed: %w", err),
			Retryable: true,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("failed to read response: %w", err),
			Retryable: true,
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: %s %s", common.ErrNotFound, method, path),
			Retryable: false,
		}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: %s %s", common.ErrPermissionDenied, method, path),
			Retryable: false,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		// The client-side limiter should prevent this; when the archive
		// throttles anyway, surface it instead of hammering further.
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: archive throttled %s %s", common.ErrRateLimit, method, path),
			Retryable: false,
		}
	case resp.StatusCode >= 500:
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("archive error (status %d): %s", resp.StatusCode, string(respBody)),
			Retryable: true,
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("archive error (status %d): %s", resp.StatusCode, string(respBody)),
			Retryable: false,
		}
	}

	return respBody, nil
}

// ListDocuments enumerates every document in the archive, following
// pagination until exhausted.
func (c *Client) ListDocuments(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	page := 1

	for {
		body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/?page=%d", page), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents (page %d): %w", page, err)
		}

		var envelope listEnvelope[documentPayload]
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse document list: %w", err)
		}

		for _, payload := range envelope.Results {
			docs = append(docs, payload.toModel())
		}

		if envelope.Next == nil || len(envelope.Results) == 0 {
			return docs, nil
		}
		page++
	}
}

// GetDocument fetches one document's current metadata snapshot.
func (c *Client) GetDocument(ctx context.Context, id int) (model.Document, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/", id), nil)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to get document %d: %w", id, err)
	}

	var payload documentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Document{}, fmt.Errorf("failed to parse document %d: %w", id, err)
	}
	return payload.toModel(), nil
}

// GetContent fetches one document's raw text content.
func (c *Client) GetContent(ctx context.Context, id int) (string, error) {
	doc, err := c.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// HasEditPermission reports whether the configured identity may modify the
// document. Archives that omit the permission marker are treated as
// permissive.
func (c *Client) HasEditPermission(ctx context.Context, id int) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/", id), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check permissions for document %d: %w", id, err)
	}

	var payload documentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("failed to parse document %d: %w", id, err)
	}

	if payload.UserCanChange == nil {
		return true, nil
	}
	return *payload.UserCanChange, nil
}

// listNamed pages through one of the id/name resource collections.
func (c *Client) listNamed(ctx context.Context, resource string) ([]namedResource, error) {
	var all []namedResource
	page := 1

	for {
		body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/%s/?page=%d", resource, page), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s (page %d): %w", resource, page, err)
		}

		var envelope listEnvelope[namedResource]
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse %s list: %w", resource, err)
		}

		all = append(all, envelope.Results...)
		if envelope.Next == nil || len(envelope.Results) == 0 {
			return all, nil
		}
		page++
	}
}

// createNamed creates one id/name resource and returns its id.
func (c *Client) createNamed(ctx context.Context, resource, name string) (int, error) {
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/%s/", resource), map[string]string{"name": name})
	if err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", resource, name, err)
	}

	var created namedResource
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, fmt.Errorf("failed to parse created %s: %w", resource, err)
	}
	return created.ID, nil
}

// GetTags returns all tag definitions.
func (c *Client) GetTags(ctx context.Context) ([]model.Tag, error) {
	resources, err := c.listNamed(ctx, "tags")
	if err != nil {
		return nil, err
	}
	tags := make([]model.Tag, len(resources))
	for i, r := range resources {
		tags[i] = model.Tag{ID: r.ID, Name: r.Name}
	}
	return tags, nil
}

// CreateTag creates a tag and returns its id.
func (c *Client) CreateTag(ctx context.Context, name string) (int, error) {
	return c.createNamed(ctx, "tags", name)
}

// GetCorrespondents returns all correspondent definitions.
func (c *Client) GetCorrespondents(ctx context.Context) ([]model.Correspondent, error) {
	resources, err := c.listNamed(ctx, "correspondents")
	if err != nil {
		return nil, err
	}
	correspondents := make([]model.Correspondent, len(resources))
	for i, r := range resources {
		correspondents[i] = model.Correspondent{ID: r.ID, Name: r.Name}
	}
	return correspondents, nil
}

// CreateCorrespondent creates a correspondent and returns its id.
func (c *Client) CreateCorrespondent(ctx context.Context, name string) (int, error) {
	return c.createNamed(ctx, "correspondents", name)
}

// GetDocumentTypes returns all document type definitions.
func (c *Client) GetDocumentTypes(ctx context.Context) ([]model.DocumentType, error) {
	resources, err := c.listNamed(ctx, "document_types")
	if err != nil {
		return nil, err
	}
	types := make([]model.DocumentType, len(resources))
	for i, r := range resources {
		types[i] = model.DocumentType{ID: r.ID, Name: r.Name}
	}
	return types, nil
}

// CreateDocumentType creates a document type and returns its id.
func (c *Client) CreateDocumentType(ctx context.Context, name string) (int, error) {
	return c.createNamed(ctx, "document_types", name)
}

// GetCustomFields returns all custom field definitions.
func (c *Client) GetCustomFields(ctx context.Context) ([]model.CustomField, error) {
	resources, err := c.listNamed(ctx, "custom_fields")
	if err != nil {
		return nil, err
	}
	fields := make([]model.CustomField, len(resources))
	for i, r := range resources {
		fields[i] = model.CustomField{ID: r.ID, Name: r.Name}
	}
	return fields, nil
}

// UpdateDocument applies a partial update. Only non-nil plan fields are sent.
func (c *Client) UpdateDocument(ctx context.Context, plan model.UpdatePlan) error {
	if plan.Empty() {
		return nil
	}

	payload := updatePayload{
		Title:         plan.Title,
		Correspondent: plan.Correspondent,
		DocumentType:  plan.DocumentType,
		Created:       plan.CreatedDate,
		Language:      plan.Language,
		Tags:          plan.Tags,
	}
	for _, binding := range plan.CustomFields {
		payload.CustomFields = append(payload.CustomFields, customFieldValue{
			Field: binding.FieldID,
			Value: binding.Value,
		})
	}

	if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", plan.DocumentID), payload); err != nil {
		return fmt.Errorf("failed to update document %d: %w", plan.DocumentID, err)
	}
	return nil
}

// Thumbnail fetches a document's thumbnail image bytes.
func (c *Client) Thumbnail(ctx context.Context, id int) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/thumb/", id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thumbnail for document %d: %w", id, err)
	}
	return data, nil
}

// stringify renders an archive custom field value as a string. The archive
// stores some field types as numbers or booleans.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
