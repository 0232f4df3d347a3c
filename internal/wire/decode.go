package wire

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/tidwall/gjson"
)

// JobEvent is the decoded payload of a job lifecycle or crawl-initiated frame
type JobEvent struct {
	JobID          string
	ConversationID string
	State          domain.JobState
	Progress       float64
	Stage          string
	Error          string
	Message        *domain.Message
}

// DecodeMessage decodes a chat message payload. selfID is the local user's
// sender id and decides between the self and counterpart roles. ok is false
// when the payload is not a JSON object.
func DecodeMessage(raw []byte, selfID string) (domain.Message, bool) {
	r := Parse(raw)
	if !r.IsObject() {
		return domain.Message{}, false
	}
	return messageFrom(r, selfID), true
}

// DecodeMessages decodes a page of conversation history. A JSON null body
// yields nil.
func DecodeMessages(raw []byte, selfID string) []domain.Message {
	r := Parse(raw)
	items := Items(r, "messages", "items", "data")
	if items == nil {
		return nil
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, it := range items {
		it = Unwrap(it)
		if !it.IsObject() {
			continue
		}
		msgs = append(msgs, messageFrom(it, selfID))
	}
	return msgs
}

func messageFrom(r gjson.Result, selfID string) domain.Message {
	m := domain.Message{
		ID:                   Text(First(r, "id", "messageId", "message_id")),
		ConversationID:       Text(First(r, "conversationId", "conversation_id")),
		SenderID:             Text(First(r, "senderId", "sender_id", "userId", "user_id")),
		SenderName:           Text(First(r, "senderName", "sender_name", "userName", "user_name")),
		Content:              Text(First(r, "content", "message", "text")),
		CreatedAt:            Time(First(r, "createdAt", "created_at", "timestamp", "sentAt")),
		Kind:                 domain.ParseKind(Text(First(r, "messageType", "message_type", "kind", "type"))),
		CrawlJobID:           Text(First(r, "crawlJobId", "crawl_job_id", "jobId", "job_id")),
		VisualizationPayload: Text(First(r, "visualizationData", "visualization_data", "visualization", "visualization_payload", "chartData")),
		ExtractedDataPayload: Text(First(r, "extractedData", "extracted_data", "extracted_data_payload")),
	}
	m.Role = roleFrom(r, m, selfID)
	return m
}

func roleFrom(r gjson.Result, m domain.Message, selfID string) domain.Role {
	if m.Kind == domain.KindSystem {
		return domain.RoleSystem
	}
	switch strings.ToLower(Text(First(r, "role", "senderRole", "sender_role"))) {
	case "system":
		return domain.RoleSystem
	case "assistant", "agent", "ai", "bot", "counterpart":
		return domain.RoleCounterpart
	case "self":
		return domain.RoleSelf
	case "user", "human":
		if m.SenderID == "" || m.SenderID == selfID {
			return domain.RoleSelf
		}
		return domain.RoleCounterpart
	}
	if First(r, "isFromAgent", "is_from_agent", "isAgent").Bool() {
		return domain.RoleCounterpart
	}
	if m.SenderID != "" {
		if m.SenderID == selfID {
			return domain.RoleSelf
		}
		return domain.RoleCounterpart
	}
	return ""
}

// DecodeJobEvent decodes a job lifecycle or crawl-initiated payload.
// state is the lifecycle state implied by the frame type.
func DecodeJobEvent(raw []byte, state domain.JobState, selfID string) (JobEvent, bool) {
	r := Parse(raw)
	if r.Type == gjson.String || r.Type == gjson.Number {
		// bare job id
		id := Text(r)
		return JobEvent{JobID: id, State: state}, id != ""
	}
	if !r.IsObject() {
		return JobEvent{}, false
	}
	ev := JobEvent{
		JobID:          Text(First(r, "jobId", "job_id", "crawlJobId", "crawl_job_id", "id")),
		ConversationID: Text(First(r, "conversationId", "conversation_id")),
		State:          state,
		Stage:          Text(First(r, "stage", "step", "statusMessage", "status_message")),
		Error:          Text(First(r, "error", "errorMessage", "error_message")),
	}
	if p, ok := Float(First(r, "progress", "percent", "percentage")); ok {
		ev.Progress = p
	}
	status := strings.ToLower(Text(First(r, "status", "state")))
	if state == domain.JobStateCompleted && (status == "failed" || status == "error" || ev.Error != "") {
		ev.State = domain.JobStateFailed
	}
	if state == domain.JobStateCompleted && ev.State != domain.JobStateFailed {
		ev.Progress = 100
	}
	if mr := First(r, "message", "summaryMessage", "summary_message"); mr.IsObject() {
		m := messageFrom(mr, selfID)
		if m.CrawlJobID == "" {
			m.CrawlJobID = ev.JobID
		}
		if m.ConversationID == "" {
			m.ConversationID = ev.ConversationID
		}
		ev.Message = &m
	}
	return ev, ev.JobID != ""
}

// DecodeError extracts a human readable error from an error frame payload
func DecodeError(raw []byte) string {
	r := Parse(raw)
	if r.IsObject() {
		return Text(First(r, "message", "error", "detail"))
	}
	if s := Text(r); s != "" {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// DecodeResults decodes a job results payload: either an array of items or an
// object wrapping one under items, results or data.
func DecodeResults(raw []byte, jobID string) []domain.ResultItem {
	items := Items(Parse(raw), "items", "results", "data")
	out := make([]domain.ResultItem, 0, len(items))
	for i, it := range items {
		it = Unwrap(it)
		item := domain.ResultItem{JobID: jobID}
		if it.IsObject() {
			item.ID = Text(First(it, "id", "resultId", "result_id"))
			item.URL = Text(First(it, "url", "sourceUrl", "source_url", "link"))
			item.Title = Text(First(it, "title", "name"))
			item.Content = Text(First(it, "content", "text", "summary"))
			item.CreatedAt = Time(First(it, "createdAt", "created_at", "timestamp"))
			if j := Text(First(it, "jobId", "job_id")); j != "" {
				item.JobID = j
			}
			if d := First(it, "data", "extractedData", "extracted_data"); d.Exists() {
				item.Data = []byte(d.Raw)
			} else {
				item.Data = []byte(it.Raw)
			}
		} else {
			item.Content = Text(it)
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s-%d", jobID, i)
		}
		out = append(out, item)
	}
	return out
}
