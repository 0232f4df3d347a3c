// Package client implements the REST collaborators of a crawl session: the
// conversation history service and the job results service.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/wire"
	"go.uber.org/zap"
)

const maxBody = 8 << 20

// HistoryClient fetches stored conversation messages
type HistoryClient struct {
	baseURL string
	selfID  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHistoryClient creates a history client. selfID decides which stored
// messages belong to the local user.
func NewHistoryClient(baseURL, selfID string, timeout time.Duration, logger *zap.Logger) *HistoryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		selfID:  selfID,
		client:  newHTTPClient(timeout),
		logger:  logger,
	}
}

// FetchMessages returns one page of a conversation. An unknown conversation
// yields no messages.
func (c *HistoryClient) FetchMessages(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	q.Set("offset", strconv.Itoa(page.Offset))
	endpoint := fmt.Sprintf("%s/conversations/%s/messages?%s", c.baseURL, url.PathEscape(conversationID), q.Encode())

	body, err := get(ctx, c.client, endpoint)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	msgs := wire.DecodeMessages(body, c.selfID)
	c.logger.Debug("History page fetched",
		zap.String("conversation_id", conversationID),
		zap.Int("offset", page.Offset),
		zap.Int("messages", len(msgs)))
	return msgs, nil
}

// ResultsClient fetches the records produced by crawl jobs
type ResultsClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewResultsClient creates a results client
func NewResultsClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ResultsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
		logger:  logger,
	}
}

// FetchResults returns the result items of a job
func (c *ResultsClient) FetchResults(ctx context.Context, jobID string) ([]domain.ResultItem, error) {
	endpoint := fmt.Sprintf("%s/jobs/%s/results", c.baseURL, url.PathEscape(jobID))
	body, err := get(ctx, c.client, endpoint)
	if err != nil {
		return nil, fmt.Errorf("results fetch for %s: %w", jobID, err)
	}
	items := wire.DecodeResults(body, jobID)
	c.logger.Debug("Job results fetched", zap.String("job_id", jobID), zap.Int("items", len(items)))
	return items, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// StatusError is a non-2xx response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps well-known status codes onto domain errors
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusBadRequest:
		return domain.ErrInvalidRequest
	}
	return nil
}

func isNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == http.StatusNotFound
}

func get(ctx context.Context, hc *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
