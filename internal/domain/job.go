package domain

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a crawl job as seen on the job channel
type JobState string

const (
	JobStateStarted   JobState = "started"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStatus is the latest telemetry known for a job
type JobStatus struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"state"`
	Progress  float64   `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobHistoryEntry summarizes one crawl job observed in a conversation
type JobHistoryEntry struct {
	MessageID string    `json:"message_id"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Prompt    string    `json:"prompt,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// ResultItem is one record produced by a crawl job
type ResultItem struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	URL       string          `json:"url,omitempty"`
	Title     string          `json:"title,omitempty"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
