// Package history derives the per-job history of a conversation and keeps a
// navigable cursor over it.
package history

import (
	"strings"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/wire"
)

// None is the cursor value when no entry is selected
const None = -1

// Mode selects how Rebuild treats existing entries
type Mode int

const (
	// ModeFull recomputes all entries and moves the cursor to the last one
	ModeFull Mode = iota
	// ModeIncremental keeps existing entries and the cursor, only filling
	// empty fields and appending newly seen jobs
	ModeIncremental
)

// Direction for Navigate
type Direction string

const (
	Prev Direction = "prev"
	Next Direction = "next"
)

// Index is the job history of one conversation.
// It is not safe for concurrent use.
type Index struct {
	entries  []domain.JobHistoryEntry
	cursor   int
	fetching bool
	pending  string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{cursor: None}
}

// Scan builds job history entries from messages in arrival order.
// One entry per distinct crawl job id, positioned where the job first appears.
func Scan(messages []domain.Message) []domain.JobHistoryEntry {
	var entries []domain.JobHistoryEntry
	pos := make(map[string]int)
	for _, m := range messages {
		if m.CrawlJobID == "" {
			continue
		}
		i, ok := pos[m.CrawlJobID]
		if !ok {
			i = len(entries)
			pos[m.CrawlJobID] = i
			entries = append(entries, domain.JobHistoryEntry{
				MessageID: m.ID,
				JobID:     m.CrawlJobID,
			})
		}
		fill(&entries[i], m)
	}
	return entries
}

// fill sets empty fields of e from m; non-empty fields are never overwritten
func fill(e *domain.JobHistoryEntry, m domain.Message) {
	if e.Timestamp.IsZero() && !m.CreatedAt.IsZero() {
		e.Timestamp = m.CreatedAt
	}
	if e.Prompt == "" && m.Kind != domain.KindAISummary && m.Role != domain.RoleSystem {
		e.Prompt = strings.TrimSpace(m.Content)
	}
	if e.Summary == "" {
		e.Summary = summaryOf(m)
	}
}

func summaryOf(m domain.Message) string {
	if m.ExtractedDataPayload != "" {
		r := wire.Parse([]byte(m.ExtractedDataPayload))
		if r.IsObject() {
			if s := strings.TrimSpace(wire.Text(wire.First(r, "summary", "aiSummary", "ai_summary"))); s != "" {
				return s
			}
		}
	}
	if m.Kind == domain.KindAISummary {
		return strings.TrimSpace(m.Content)
	}
	return ""
}

// Rebuild recomputes the index from a conversation snapshot
func (x *Index) Rebuild(messages []domain.Message, mode Mode) {
	scanned := Scan(messages)
	if mode == ModeFull {
		x.entries = scanned
		x.cursor = len(x.entries) - 1
		return
	}

	pos := make(map[string]int, len(x.entries))
	for i, e := range x.entries {
		pos[e.JobID] = i
	}
	for _, s := range scanned {
		i, ok := pos[s.JobID]
		if !ok {
			pos[s.JobID] = len(x.entries)
			x.entries = append(x.entries, s)
			continue
		}
		e := &x.entries[i]
		if e.Timestamp.IsZero() {
			e.Timestamp = s.Timestamp
		}
		if e.Prompt == "" {
			e.Prompt = s.Prompt
		}
		if e.Summary == "" {
			e.Summary = s.Summary
		}
	}
}

// Reset clears entries, cursor and the in-flight fetch
func (x *Index) Reset() {
	x.entries = nil
	x.cursor = None
	x.fetching = false
	x.pending = ""
}

// Entries returns a copy of the entries in first-seen order
func (x *Index) Entries() []domain.JobHistoryEntry {
	out := make([]domain.JobHistoryEntry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Len returns the number of entries
func (x *Index) Len() int { return len(x.entries) }

// Cursor returns the selected index or None
func (x *Index) Cursor() int { return x.cursor }

// Current returns the entry under the cursor
func (x *Index) Current() (domain.JobHistoryEntry, bool) {
	if x.cursor < 0 || x.cursor >= len(x.entries) {
		return domain.JobHistoryEntry{}, false
	}
	return x.entries[x.cursor], true
}

// Fetching reports whether a job-results fetch started by the cursor is outstanding
func (x *Index) Fetching() bool { return x.fetching }

// Navigate moves the cursor one step. It is a no-op when the target is out
// of bounds or a fetch is in flight. On success the returned job id must be
// fetched and FetchDone called when the fetch settles.
func (x *Index) Navigate(dir Direction) (string, bool) {
	target := x.cursor
	switch dir {
	case Prev:
		target--
	case Next:
		target++
	default:
		return "", false
	}
	return x.move(target)
}

// SelectIndex moves the cursor to i with the same rules as Navigate.
// Selecting the current position is a no-op.
func (x *Index) SelectIndex(i int) (string, bool) {
	if i == x.cursor {
		return "", false
	}
	return x.move(i)
}

// Begin marks a fetch for the entry under the cursor as in flight, used
// after a full rebuild selects the last entry. An outstanding fetch for
// another job no longer holds the gate; its FetchDone becomes a no-op.
func (x *Index) Begin() (string, bool) {
	e, ok := x.Current()
	if !ok || (x.fetching && x.pending == e.JobID) {
		return "", false
	}
	x.fetching = true
	x.pending = e.JobID
	return e.JobID, true
}

func (x *Index) move(target int) (string, bool) {
	if x.fetching || target < 0 || target >= len(x.entries) {
		return "", false
	}
	x.cursor = target
	x.fetching = true
	x.pending = x.entries[target].JobID
	return x.pending, true
}

// FetchDone clears the in-flight gate if jobID is the outstanding fetch
func (x *Index) FetchDone(jobID string) {
	if x.fetching && x.pending == jobID {
		x.fetching = false
		x.pending = ""
	}
}
