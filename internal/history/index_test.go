package history

import (
	"testing"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	request = domain.Message{ID: "m1", Role: domain.RoleSelf, Kind: domain.KindCrawlRequest, CrawlJobID: "j1", Content: "find prices"}
	summary = domain.Message{ID: "m2", Role: domain.RoleCounterpart, Kind: domain.KindAISummary, CrawlJobID: "j1", Content: "(summary text)"}
)

func TestScanMergesJobMessagesInEitherOrder(t *testing.T) {
	tests := []struct {
		name     string
		messages []domain.Message
	}{
		{name: "request first", messages: []domain.Message{request, summary}},
		{name: "summary first", messages: []domain.Message{summary, request}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := Scan(tt.messages)
			require.Len(t, entries, 1)
			assert.Equal(t, "j1", entries[0].JobID)
			assert.Equal(t, "find prices", entries[0].Prompt)
			assert.Equal(t, "(summary text)", entries[0].Summary)
			assert.Equal(t, tt.messages[0].ID, entries[0].MessageID)
		})
	}
}

func TestScanPrefersStructuredSummary(t *testing.T) {
	withPayload := summary
	withPayload.ExtractedDataPayload = `"{\"summary\":\"3 products under $10\"}"`

	entries := Scan([]domain.Message{request, withPayload})
	require.Len(t, entries, 1)
	assert.Equal(t, "3 products under $10", entries[0].Summary)
}

func TestScanFirstNonEmptyWins(t *testing.T) {
	later := domain.Message{ID: "m3", Role: domain.RoleCounterpart, Kind: domain.KindAISummary, CrawlJobID: "j1", Content: "newer summary"}
	entries := Scan([]domain.Message{request, summary, later})
	require.Len(t, entries, 1)
	assert.Equal(t, "(summary text)", entries[0].Summary)
}

func TestScanKeepsFirstSeenOrder(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{ID: "a", Role: domain.RoleSelf, CrawlJobID: "j2", Content: "second job", CreatedAt: ts},
		{ID: "b", Role: domain.RoleSelf, Content: "no job"},
		{ID: "c", Role: domain.RoleSelf, CrawlJobID: "j1", Content: "first job"},
		{ID: "d", Role: domain.RoleCounterpart, Kind: domain.KindAISummary, CrawlJobID: "j2", Content: "done"},
	}
	entries := Scan(messages)
	require.Len(t, entries, 2)
	assert.Equal(t, "j2", entries[0].JobID)
	assert.Equal(t, ts, entries[0].Timestamp)
	assert.Equal(t, "done", entries[0].Summary)
	assert.Equal(t, "j1", entries[1].JobID)
}

func jobs(ids ...string) []domain.Message {
	var out []domain.Message
	for _, id := range ids {
		out = append(out, domain.Message{ID: "m-" + id, Role: domain.RoleSelf, CrawlJobID: id, Content: "crawl " + id})
	}
	return out
}

func TestFullRebuildMovesCursorToLast(t *testing.T) {
	x := NewIndex()
	x.Rebuild(nil, ModeFull)
	assert.Equal(t, None, x.Cursor())

	x.Rebuild(jobs("j1", "j2", "j3"), ModeFull)
	assert.Equal(t, 2, x.Cursor())
}

func TestIncrementalRebuildPreservesCursorAndEntries(t *testing.T) {
	x := NewIndex()
	msgs := jobs("j1", "j2")
	x.Rebuild(msgs, ModeFull)
	_, ok := x.SelectIndex(0)
	require.True(t, ok)
	x.FetchDone("j1")

	msgs = append(msgs, domain.Message{ID: "s1", Role: domain.RoleCounterpart, Kind: domain.KindAISummary, CrawlJobID: "j1", Content: "summary one"})
	msgs = append(msgs, jobs("j3")...)
	x.Rebuild(msgs, ModeIncremental)

	assert.Equal(t, 0, x.Cursor())
	entries := x.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "summary one", entries[0].Summary)
	assert.Equal(t, "crawl j1", entries[0].Prompt)
	assert.Equal(t, "j3", entries[2].JobID)
}

func TestIncrementalRebuildNeverOverwrites(t *testing.T) {
	x := NewIndex()
	x.Rebuild([]domain.Message{request, summary}, ModeFull)

	edited := request
	edited.Content = "find cheaper prices"
	x.Rebuild([]domain.Message{edited, summary}, ModeIncremental)

	e, ok := x.Current()
	require.True(t, ok)
	assert.Equal(t, "find prices", e.Prompt)
}

func TestNavigateBounds(t *testing.T) {
	x := NewIndex()
	x.Rebuild(jobs("j1", "j2", "j3"), ModeFull)

	_, ok := x.Navigate(Next)
	assert.False(t, ok, "next at last index")
	assert.Equal(t, 2, x.Cursor())

	job, ok := x.SelectIndex(0)
	require.True(t, ok)
	assert.Equal(t, "j1", job)
	x.FetchDone(job)

	_, ok = x.Navigate(Prev)
	assert.False(t, ok, "prev at index 0")
	assert.Equal(t, 0, x.Cursor())

	job, ok = x.Navigate(Next)
	require.True(t, ok)
	assert.Equal(t, "j2", job)
	assert.Equal(t, 1, x.Cursor())
}

func TestNavigateIgnoredWhileFetching(t *testing.T) {
	x := NewIndex()
	x.Rebuild(jobs("j1", "j2", "j3"), ModeFull)

	job, ok := x.Navigate(Prev)
	require.True(t, ok)
	assert.True(t, x.Fetching())

	_, ok = x.Navigate(Prev)
	assert.False(t, ok)
	_, ok = x.SelectIndex(0)
	assert.False(t, ok)
	assert.Equal(t, 1, x.Cursor())

	x.FetchDone("j3") // not the outstanding job
	assert.True(t, x.Fetching())

	x.FetchDone(job)
	assert.False(t, x.Fetching())
	_, ok = x.Navigate(Prev)
	assert.True(t, ok)
}

func TestSelectIndexSameOrOutOfRange(t *testing.T) {
	x := NewIndex()
	x.Rebuild(jobs("j1", "j2"), ModeFull)

	_, ok := x.SelectIndex(1)
	assert.False(t, ok)
	_, ok = x.SelectIndex(5)
	assert.False(t, ok)
	_, ok = x.SelectIndex(-1)
	assert.False(t, ok)
	assert.False(t, x.Fetching())
}

func TestBeginAndReset(t *testing.T) {
	x := NewIndex()
	_, ok := x.Begin()
	assert.False(t, ok)

	x.Rebuild(jobs("j1"), ModeFull)
	job, ok := x.Begin()
	require.True(t, ok)
	assert.Equal(t, "j1", job)

	x.Reset()
	assert.Equal(t, None, x.Cursor())
	assert.False(t, x.Fetching())
	assert.Equal(t, 0, x.Len())
}

func TestBeginTakesOverFetchForAnotherJob(t *testing.T) {
	x := NewIndex()
	x.Rebuild(jobs("j1", "j2"), ModeFull)
	job, ok := x.SelectIndex(0)
	require.True(t, ok)
	require.Equal(t, "j1", job)

	x.Rebuild(jobs("j0", "j1", "j2"), ModeFull)
	assert.Equal(t, 2, x.Cursor())

	job, ok = x.Begin()
	require.True(t, ok, "cursor job needs its own fetch")
	assert.Equal(t, "j2", job)

	_, ok = x.Begin()
	assert.False(t, ok, "already in flight for the cursor job")

	x.FetchDone("j1")
	assert.True(t, x.Fetching(), "late completion of the replaced fetch")
	x.FetchDone("j2")
	assert.False(t, x.Fetching())
}
