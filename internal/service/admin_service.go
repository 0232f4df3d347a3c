package service

import (
	"context"
	"fmt"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/repository"
	"go.uber.org/zap"
)

// CacheStats summarizes the local cache
type CacheStats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	JobResults    int `json:"job_results"`
}

// ConversationDetail is a cached conversation with its job history
type ConversationDetail struct {
	ID       string                   `json:"id"`
	Messages []domain.Message         `json:"messages"`
	History  []domain.JobHistoryEntry `json:"history"`
}

// AdminService inspects and prunes the local cache
type AdminService struct {
	conversationRepo *repository.ConversationRepository
	resultRepo       *repository.ResultRepository
	logger           *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(
	conversationRepo *repository.ConversationRepository,
	resultRepo *repository.ResultRepository,
	logger *zap.Logger,
) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		conversationRepo: conversationRepo,
		resultRepo:       resultRepo,
		logger:           logger,
	}
}

// Conversation operations

func (s *AdminService) ListConversations(ctx context.Context, limit int) ([]string, error) {
	ids, err := s.conversationRepo.List(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *AdminService) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	msgs, err := s.conversationRepo.GetMessages(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if len(msgs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &ConversationDetail{ID: id, Messages: msgs, History: history.Scan(msgs)}, nil
}

// DeleteConversation drops a conversation's messages and the results of its jobs
func (s *AdminService) DeleteConversation(ctx context.Context, id string) error {
	if err := s.conversationRepo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := s.resultRepo.DeleteConversation(id)
	if err != nil {
		return fmt.Errorf("failed to delete job results: %w", err)
	}
	s.logger.Info("Cached conversation deleted", zap.String("conversation_id", id), zap.Int64("job_results", n))
	return nil
}

// Job result operations

func (s *AdminService) GetJobResults(ctx context.Context, jobID string) ([]domain.ResultItem, error) {
	items, err := s.resultRepo.GetResults(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job results: %w", err)
	}
	if items == nil {
		return nil, domain.ErrNotFound
	}
	return items, nil
}

// Stats

func (s *AdminService) GetStats(ctx context.Context) (*CacheStats, error) {
	convs, msgs, err := s.conversationRepo.Counts()
	if err != nil {
		return nil, err
	}
	jobs, err := s.resultRepo.Count()
	if err != nil {
		return nil, err
	}
	return &CacheStats{Conversations: convs, Messages: msgs, JobResults: jobs}, nil
}
