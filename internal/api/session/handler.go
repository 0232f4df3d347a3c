package session

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/crawldesk/internal/chart"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/render"
	"github.com/liliang-cn/crawldesk/internal/service"
)

// Session is the crawl session the handler drives
type Session interface {
	View(ctx context.Context) (service.View, error)
	Watch() (<-chan uint64, func())
	SendMessage(ctx context.Context, content string) error
	StartCrawl(ctx context.Context, prompt string) error
	NewConversation(ctx context.Context) (string, error)
	SwitchConversation(ctx context.Context, conversationID string) error
	Navigate(ctx context.Context, dir history.Direction) (bool, error)
	SelectIndex(ctx context.Context, i int) (bool, error)
	SetContext(ctx context.Context, assignmentID, groupID string) error
}

// Handler exposes the session to a UI: intents as POST, the read model as
// GET and a server-sent change feed.
type Handler struct {
	session Session
}

// NewHandler creates a new session handler
func NewHandler(session Session) *Handler {
	return &Handler{session: session}
}

// RegisterRoutes registers session routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.GetView)
	r.GET("/events", h.Events)
	r.POST("/messages", h.SendMessage)
	r.POST("/crawl", h.StartCrawl)
	r.POST("/conversations", h.Conversation)
	r.POST("/history/navigate", h.Navigate)
	r.POST("/history/select", h.Select)
	r.PUT("/context", h.SetContext)
}

// RegisterPreviewRoutes registers the stateless render helpers
func (h *Handler) RegisterPreviewRoutes(r *gin.RouterGroup) {
	r.POST("/render", h.Render)
	r.POST("/chart", h.Chart)
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

type crawlRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type navigateRequest struct {
	Direction history.Direction `json:"direction" binding:"required,oneof=prev next"`
}

type selectRequest struct {
	Index *int `json:"index" binding:"required"`
}

type contextRequest struct {
	AssignmentID string `json:"assignment_id"`
	GroupID      string `json:"group_id"`
}

type renderRequest struct {
	Text string `json:"text"`
}

type chartRequest struct {
	Payload any `json:"payload"`
}

func (h *Handler) GetView(c *gin.Context) {
	v, err := h.session.View(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Events streams the read model after every change (SSE)
func (h *Handler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	revisions, stop := h.session.Watch()
	defer stop()

	v, err := h.session.View(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("view", v)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case _, ok := <-revisions:
			if !ok {
				c.SSEvent("closed", gin.H{"reason": "session disposed"})
				return false
			}
			v, err := h.session.View(ctx)
			if err != nil {
				c.SSEvent("error", gin.H{"error": err.Error()})
				return false
			}
			c.SSEvent("view", v)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.session.SendMessage(c.Request.Context(), req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sent"})
}

func (h *Handler) StartCrawl(c *gin.Context) {
	var req crawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.session.StartCrawl(c.Request.Context(), req.Prompt); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "crawl requested"})
}

// Conversation switches to the given conversation, or to a new one when the
// id is empty
func (h *Handler) Conversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := req.ConversationID
	var err error
	if id == "" {
		id, err = h.session.NewConversation(ctx)
	} else {
		err = h.session.SwitchConversation(ctx, id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

func (h *Handler) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	moved, err := h.session.Navigate(c.Request.Context(), req.Direction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func (h *Handler) Select(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	moved, err := h.session.SelectIndex(c.Request.Context(), *req.Index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func (h *Handler) SetContext(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.session.SetContext(c.Request.Context(), req.AssignmentID, req.GroupID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment_id": req.AssignmentID, "group_id": req.GroupID})
}

// Render previews the rich-content renderer
func (h *Handler) Render(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, render.Render(req.Text))
}

// Chart previews the visualization adapter; an unusable payload yields null
func (h *Handler) Chart(c *gin.Context) {
	var req chartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chart": chart.Adapt(req.Payload)})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
