package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
)

// ResultRepository keeps the last known results of each crawl job
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveResults stores the results of a job, replacing earlier ones
func (r *ResultRepository) SaveResults(jobID, conversationID string, items []domain.ResultItem) error {
	if jobID == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrInvalidRequest)
	}
	if items == nil {
		items = []domain.ResultItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO job_results (job_id, conversation_id, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, jobID, conversationID, string(payload), time.Now())
	return err
}

// GetResults returns the cached results of a job, or nil when none are cached
func (r *ResultRepository) GetResults(jobID string) ([]domain.ResultItem, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM job_results WHERE job_id = ?`, jobID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []domain.ResultItem
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("corrupt results for job %s: %w", jobID, err)
	}
	return items, nil
}

// DeleteConversation drops the cached results of every job in a conversation
func (r *ResultRepository) DeleteConversation(conversationID string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM job_results WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of jobs with cached results
func (r *ResultRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM job_results`).Scan(&n)
	return n, err
}
