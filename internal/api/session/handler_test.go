package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	view     service.View
	err      error
	calls    []string
	revs     chan uint64
	stopped  bool
	newID    string
	moved    bool
	selected int
}

func (f *fakeSession) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSession) View(ctx context.Context) (service.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view, f.err
}

func (f *fakeSession) Watch() (<-chan uint64, func()) {
	return f.revs, func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}
}

func (f *fakeSession) SendMessage(ctx context.Context, content string) error {
	return f.record("send:" + content)
}

func (f *fakeSession) StartCrawl(ctx context.Context, prompt string) error {
	return f.record("crawl:" + prompt)
}

func (f *fakeSession) NewConversation(ctx context.Context) (string, error) {
	return f.newID, f.record("new")
}

func (f *fakeSession) SwitchConversation(ctx context.Context, id string) error {
	return f.record("switch:" + id)
}

func (f *fakeSession) Navigate(ctx context.Context, dir history.Direction) (bool, error) {
	return f.moved, f.record("navigate:" + string(dir))
}

func (f *fakeSession) SelectIndex(ctx context.Context, i int) (bool, error) {
	f.mu.Lock()
	f.selected = i
	f.mu.Unlock()
	return f.moved, f.record("select")
}

func (f *fakeSession) SetContext(ctx context.Context, a, g string) error {
	return f.record("context:" + a + "/" + g)
}

func setup(f *fakeSession) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f)
	h.RegisterRoutes(r.Group("/api/session"))
	h.RegisterPreviewRoutes(r.Group("/api"))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIntents(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		call   string
	}{
		{"send", http.MethodPost, "/api/session/messages", `{"content":"hi"}`, http.StatusAccepted, "send:hi"},
		{"send without content", http.MethodPost, "/api/session/messages", `{}`, http.StatusBadRequest, ""},
		{"crawl", http.MethodPost, "/api/session/crawl", `{"prompt":"prices on example.com"}`, http.StatusAccepted, "crawl:prices on example.com"},
		{"switch", http.MethodPost, "/api/session/conversations", `{"conversation_id":"c2"}`, http.StatusOK, "switch:c2"},
		{"new from empty body", http.MethodPost, "/api/session/conversations", "", http.StatusOK, "new"},
		{"new from empty id", http.MethodPost, "/api/session/conversations", `{}`, http.StatusOK, "new"},
		{"navigate", http.MethodPost, "/api/session/history/navigate", `{"direction":"prev"}`, http.StatusOK, "navigate:prev"},
		{"navigate sideways", http.MethodPost, "/api/session/history/navigate", `{"direction":"up"}`, http.StatusBadRequest, ""},
		{"select", http.MethodPost, "/api/session/history/select", `{"index":0}`, http.StatusOK, "select"},
		{"select without index", http.MethodPost, "/api/session/history/select", `{}`, http.StatusBadRequest, ""},
		{"context", http.MethodPut, "/api/session/context", `{"assignment_id":"a1","group_id":"g1"}`, http.StatusOK, "context:a1/g1"},
		{"malformed", http.MethodPut, "/api/session/context", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSession{newID: "fresh", selected: -1}
			w := do(setup(f), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.call == "" {
				assert.Empty(t, f.calls)
			} else {
				assert.Equal(t, []string{tt.call}, f.calls)
			}
		})
	}
}

func TestConversationResponse(t *testing.T) {
	f := &fakeSession{newID: "fresh"}
	w := do(setup(f), http.MethodPost, "/api/session/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversation_id":"fresh"}`, w.Body.String())
}

func TestSelectPassesIndex(t *testing.T) {
	f := &fakeSession{moved: true}
	w := do(setup(f), http.MethodPost, "/api/session/history/select", `{"index":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"moved":true}`, w.Body.String())
	assert.Equal(t, 2, f.selected)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: empty message", domain.ErrInvalidRequest), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("send: %w", domain.ErrNotConnected), http.StatusServiceUnavailable},
		{domain.ErrSessionClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := &fakeSession{err: tt.err}
			w := do(setup(f), http.MethodPost, "/api/session/messages", `{"content":"hi"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestGetView(t *testing.T) {
	f := &fakeSession{view: service.View{ConversationID: "c1", Cursor: history.None, Results: []domain.ResultItem{}}}
	w := do(setup(f), http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "c1", got["conversation_id"])
	assert.EqualValues(t, -1, got["cursor"])
	assert.Equal(t, []any{}, got["results"])

	f.err = domain.ErrSessionClosed
	w = do(setup(f), http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPreview(t *testing.T) {
	r := setup(&fakeSession{})

	w := do(r, http.MethodPost, "/api/render", `{"text":"## Hi\n<script>x</script>"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var rendered struct {
		HTML string `json:"html"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rendered))
	assert.Contains(t, rendered.HTML, "<h2>Hi</h2>")
	assert.NotContains(t, rendered.HTML, "<script")

	w = do(r, http.MethodPost, "/api/chart", `{"payload":{"type":"pie","labels":["a","b"],"values":[1,2]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"pie"`)

	w = do(r, http.MethodPost, "/api/chart", `{"payload":"not a chart"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chart":null}`, w.Body.String())
}

func readEvent(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestEvents(t *testing.T) {
	f := &fakeSession{view: service.View{Revision: 1, ConversationID: "c1"}, revs: make(chan uint64, 1)}
	srv := httptest.NewServer(setup(f))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	event, data := readEvent(t, rd)
	assert.Equal(t, "view", event)
	assert.Contains(t, data, `"revision":1`)

	f.mu.Lock()
	f.view.Revision = 2
	f.mu.Unlock()
	f.revs <- 2
	event, data = readEvent(t, rd)
	assert.Equal(t, "view", event)
	assert.Contains(t, data, `"revision":2`)

	close(f.revs)
	event, _ = readEvent(t, rd)
	assert.Equal(t, "closed", event)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.stopped
	}, time.Second, 10*time.Millisecond)
}
