package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a message relative to the local user
type Role string

const (
	RoleSelf        Role = "self"
	RoleCounterpart Role = "counterpart"
	RoleSystem      Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSelf, RoleCounterpart, RoleSystem:
		return true
	}
	return false
}

// Kind classifies a message within a crawl conversation
type Kind string

const (
	KindChat         Kind = "chat"
	KindCrawlRequest Kind = "crawl_request"
	KindCrawlResult  Kind = "crawl_result"
	KindAISummary    Kind = "ai_summary"
	KindSystem       Kind = "system"
	KindFollowUp     Kind = "follow_up"
)

var kindAliases = map[string]Kind{
	"chat":               KindChat,
	"text":               KindChat,
	"message":            KindChat,
	"crawlrequest":       KindCrawlRequest,
	"crawl":              KindCrawlRequest,
	"crawlresult":        KindCrawlResult,
	"result":             KindCrawlResult,
	"aisummary":          KindAISummary,
	"summary":            KindAISummary,
	"system":             KindSystem,
	"systemnotification": KindSystem,
	"notification":       KindSystem,
	"followup":           KindFollowUp,
	"followupquestion":   KindFollowUp,
}

// ParseKind maps a wire spelling onto a Kind. Matching ignores case,
// dashes, underscores and spaces; unknown spellings are kept lowercased.
func ParseKind(s string) Kind {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(s))
	if k, ok := kindAliases[compact]; ok {
		return k
	}
	return Kind(strings.ToLower(s))
}

// Message represents one entry of a crawl conversation.
// Empty strings and the zero time mean "not provided".
type Message struct {
	ID                   string    `json:"id"`
	ConversationID       string    `json:"conversation_id,omitempty"`
	Role                 Role      `json:"role"`
	SenderID             string    `json:"sender_id,omitempty"`
	SenderName           string    `json:"sender_name,omitempty"`
	Content              string    `json:"content"`
	CreatedAt            time.Time `json:"created_at"`
	Kind                 Kind      `json:"kind"`
	CrawlJobID           string    `json:"crawl_job_id,omitempty"`
	VisualizationPayload string    `json:"visualization_payload,omitempty"`
	ExtractedDataPayload string    `json:"extracted_data_payload,omitempty"`
}

// Merge copies every provided field of other onto m, last write wins.
// The id is never changed.
func (m *Message) Merge(other Message) {
	if other.ConversationID != "" {
		m.ConversationID = other.ConversationID
	}
	if other.Role != "" {
		m.Role = other.Role
	}
	if other.SenderID != "" {
		m.SenderID = other.SenderID
	}
	if other.SenderName != "" {
		m.SenderName = other.SenderName
	}
	if other.Content != "" {
		m.Content = other.Content
	}
	if !other.CreatedAt.IsZero() {
		m.CreatedAt = other.CreatedAt
	}
	if other.Kind != "" {
		m.Kind = other.Kind
	}
	if other.CrawlJobID != "" {
		m.CrawlJobID = other.CrawlJobID
	}
	if other.VisualizationPayload != "" {
		m.VisualizationPayload = other.VisualizationPayload
	}
	if other.ExtractedDataPayload != "" {
		m.ExtractedDataPayload = other.ExtractedDataPayload
	}
}

// OutgoingMessage is what the conversational channel sends upstream
type OutgoingMessage struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	AssignmentID   string `json:"assignmentId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	Kind           Kind   `json:"messageType"`
	CrawlJobID     string `json:"crawlJobId,omitempty"`
}

// Page selects a window of conversation history
type Page struct {
	Limit  int
	Offset int
}
