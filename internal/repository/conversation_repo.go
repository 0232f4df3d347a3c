package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
)

// ConversationRepository caches the last loaded messages of conversations
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// List returns cached conversation ids, most recently updated first
func (r *ConversationRepository) List(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT id FROM conversations ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveMessages replaces the cached messages of a conversation
func (r *ConversationRepository) SaveMessages(conversationID string, msgs []domain.Message) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", domain.ErrInvalidRequest)
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, conversationID, now, now); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (conversation_id, position, id, role, sender_id, sender_name,
			content, kind, crawl_job_id, visualization, extracted_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range msgs {
		var createdAt sql.NullTime
		if !m.CreatedAt.IsZero() {
			createdAt = sql.NullTime{Time: m.CreatedAt, Valid: true}
		}
		if _, err := stmt.Exec(conversationID, i, m.ID, string(m.Role), m.SenderID, m.SenderName,
			m.Content, string(m.Kind), m.CrawlJobID, m.VisualizationPayload, m.ExtractedDataPayload, createdAt); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessages returns the cached messages of a conversation in arrival order
func (r *ConversationRepository) GetMessages(conversationID string) ([]domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, role, sender_id, sender_name, content, kind, crawl_job_id,
			visualization, extracted_data, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY position ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m := domain.Message{ConversationID: conversationID}
		var role, kind string
		var senderID, senderName, jobID, viz, extracted sql.NullString
		var createdAt sql.NullTime

		if err := rows.Scan(&m.ID, &role, &senderID, &senderName, &m.Content, &kind,
			&jobID, &viz, &extracted, &createdAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.Kind = domain.Kind(kind)
		m.SenderID = senderID.String
		m.SenderName = senderName.String
		m.CrawlJobID = jobID.String
		m.VisualizationPayload = viz.String
		m.ExtractedDataPayload = extracted.String
		if createdAt.Valid {
			m.CreatedAt = createdAt.Time
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Delete removes a conversation and its cached messages
func (r *ConversationRepository) Delete(conversationID string) error {
	_, err := r.db.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	return err
}

// Counts returns the number of cached conversations and messages
func (r *ConversationRepository) Counts() (conversations, messages int, err error) {
	err = r.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM conversations), (SELECT COUNT(*) FROM messages)
	`).Scan(&conversations, &messages)
	return conversations, messages, err
}
