package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryClient_FetchMessages(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.EscapedPath(), r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"m1","senderId":"me","content":"crawl it","messageType":"crawl_request","crawlJobId":"j1"},
			{"id":"m2","isFromAgent":true,"content":"done","messageType":"ai_summary","crawlJobId":"j1"}
		]`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL+"/", "me", time.Second, nil)
	msgs, err := c.FetchMessages(context.Background(), "conv 1", domain.Page{Limit: 50, Offset: 100})
	require.NoError(t, err)

	assert.Equal(t, "/conversations/conv%201/messages", gotPath)
	assert.Equal(t, "limit=50&offset=100", gotQuery)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSelf, msgs[0].Role)
	assert.Equal(t, domain.KindCrawlRequest, msgs[0].Kind)
	assert.Equal(t, domain.RoleCounterpart, msgs[1].Role)
	assert.Equal(t, "j1", msgs[1].CrawlJobID)
}

func TestHistoryClient_EmptyResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"error":"no such conversation"}`},
		{"null body", http.StatusOK, `null`},
		{"wrapped empty", http.StatusOK, `{"messages":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			msgs, err := NewHistoryClient(srv.URL, "me", time.Second, nil).
				FetchMessages(context.Background(), "c1", domain.Page{Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestHistoryClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHistoryClient(srv.URL, "me", time.Second, nil).
		FetchMessages(context.Background(), "c1", domain.Page{Limit: 10})
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Contains(t, err.Error(), "boom")
}

func TestResultsClient_FetchResults(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"array", `[{"id":"r1","title":"One"},{"title":"Two"}]`, []string{"r1", "j1-1"}},
		{"wrapped", `{"items":[{"id":"r1","url":"https://example.com"}]}`, []string{"r1"}},
		{"string encoded", `"[{\"id\":\"r9\"}]"`, []string{"r9"}},
		{"empty", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			items, err := NewResultsClient(srv.URL, time.Second, nil).FetchResults(context.Background(), "j1")
			require.NoError(t, err)
			assert.Equal(t, "/jobs/j1/results", gotPath)
			ids := make([]string, 0, len(items))
			for _, it := range items {
				assert.Equal(t, "j1", it.JobID)
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestResultsClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jobs/missing/results" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewResultsClient(srv.URL, time.Second, nil)

	_, err := c.FetchResults(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = c.FetchResults(context.Background(), "j1")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestResultsClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewResultsClient(srv.URL, time.Second, nil).FetchResults(ctx, "j1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
