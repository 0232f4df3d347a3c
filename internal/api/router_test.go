package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/repository"
	"github.com/liliang-cn/crawldesk/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct{}

func (stubSession) View(context.Context) (service.View, error) {
	return service.View{ConversationID: "c1", Cursor: history.None}, nil
}
func (stubSession) Watch() (<-chan uint64, func()) { return nil, func() {} }
func (stubSession) SendMessage(context.Context, string) error { return nil }
func (stubSession) StartCrawl(context.Context, string) error { return nil }
func (stubSession) NewConversation(context.Context) (string, error) { return "c2", nil }
func (stubSession) SwitchConversation(context.Context, string) error { return nil }
func (stubSession) Navigate(context.Context, history.Direction) (bool, error) { return false, nil }
func (stubSession) SelectIndex(context.Context, int) (bool, error) { return false, nil }
func (stubSession) SetContext(context.Context, string, string) error { return nil }

func newRouter(t *testing.T, apiKey string) (*gin.Engine, *repository.ConversationRepository, *repository.ResultRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	convs := repository.NewConversationRepository(db)
	results := repository.NewResultRepository(db)
	admin := service.NewAdminService(convs, results, nil)
	r := SetupRouter(stubSession{}, admin, RouterConfig{APIKey: apiKey, AllowOrigins: []string{"https://ui.example.com"}})
	return r, convs, results
}

func serve(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := newRouter(t, "secret")
	w := serve(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuth(t *testing.T) {
	r, _, _ := newRouter(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/session", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/admin/stats", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/session", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/admin/stats", map[string]string{"Authorization": "Bearer secret"}).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "render helpers are public")
}

func TestCORS(t *testing.T) {
	r, _, _ := newRouter(t, "")

	w := serve(r, http.MethodOptions, "/api/session/messages", map[string]string{"Origin": "https://ui.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ui.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "DELETE, GET, POST, PUT, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	w = serve(r, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminRoutes(t *testing.T) {
	r, convs, results := newRouter(t, "")
	require.NoError(t, convs.SaveMessages("c1", []domain.Message{
		{ID: "m1", Role: domain.RoleSelf, Kind: domain.KindCrawlRequest, CrawlJobID: "j1", Content: "go"},
	}))
	require.NoError(t, results.SaveResults("j1", "c1", []domain.ResultItem{{ID: "r1", JobID: "j1"}}))

	w := serve(r, http.MethodGet, "/api/admin/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversations":["c1"]}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/admin/conversations/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"job_id":"j1"`)

	w = serve(r, http.MethodGet, "/api/admin/jobs/j1/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"r1"`)

	w = serve(r, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversations":1,"messages":1,"job_results":1}`, w.Body.String())

	w = serve(r, http.MethodDelete, "/api/admin/conversations/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/admin/conversations/c1", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/admin/jobs/j1/results", nil).Code)
}

func TestAdminDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(stubSession{}, nil, RouterConfig{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/admin/stats", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/session", nil).Code)
}
