package wire

import (
	"testing"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_Roles(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Role
	}{
		{"own sender id", `{"id":"1","senderId":"me"}`, domain.RoleSelf},
		{"other sender id", `{"id":"1","senderId":"bob"}`, domain.RoleCounterpart},
		{"agent flag", `{"id":"1","isFromAgent":true}`, domain.RoleCounterpart},
		{"assistant role", `{"id":"1","role":"assistant","senderId":"me"}`, domain.RoleCounterpart},
		{"user role, other sender", `{"id":"1","role":"user","senderId":"bob"}`, domain.RoleCounterpart},
		{"user role, no sender", `{"id":"1","role":"user"}`, domain.RoleSelf},
		{"system kind", `{"id":"1","messageType":"SYSTEM_NOTIFICATION","senderId":"me"}`, domain.RoleSystem},
		{"unknown", `{"id":"1"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := DecodeMessage([]byte(tt.raw), "me")
			require.True(t, ok)
			assert.Equal(t, tt.want, m.Role)
		})
	}
}

func TestDecodeMessage_Fields(t *testing.T) {
	raw := `{
		"message_id": 42,
		"conversation_id": "c1",
		"sender_name": "Ada",
		"text": "hello",
		"sentAt": 1700000000000,
		"message_type": "crawl-request",
		"job_id": "j1",
		"visualizationData": {"type":"bar"},
		"extractedData": "{\"summary\":\"s\"}"
	}`
	m, ok := DecodeMessage([]byte(raw), "me")
	require.True(t, ok)
	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "Ada", m.SenderName)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), m.CreatedAt)
	assert.Equal(t, domain.KindCrawlRequest, m.Kind)
	assert.Equal(t, "j1", m.CrawlJobID)
	assert.JSONEq(t, `{"type":"bar"}`, m.VisualizationPayload)
	assert.JSONEq(t, `{"summary":"s"}`, m.ExtractedDataPayload)
}

func TestDecodeMessage_Rejects(t *testing.T) {
	for _, raw := range []string{``, `null`, `[]`, `"text"`, `{bad`} {
		_, ok := DecodeMessage([]byte(raw), "me")
		assert.False(t, ok, raw)
	}
	m, ok := DecodeMessage([]byte(`"{\"id\":\"x\",\"content\":\"wrapped\"}"`), "me")
	require.True(t, ok, "string-encoded objects are unwrapped")
	assert.Equal(t, "wrapped", m.Content)
}

func TestDecodeMessages(t *testing.T) {
	assert.Nil(t, DecodeMessages([]byte(`null`), "me"))
	assert.Nil(t, DecodeMessages([]byte(`{"total":0}`), "me"))

	msgs := DecodeMessages([]byte(`{"messages":[{"id":"a"}, 7, "junk", {"id":"b"}]}`), "me")
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestDecodeJobEvent(t *testing.T) {
	t.Run("progress as text", func(t *testing.T) {
		ev, ok := DecodeJobEvent([]byte(`{"job_id":"j1","percent":"35%","step":"parsing"}`), domain.JobStateRunning, "me")
		require.True(t, ok)
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, 35.0, ev.Progress)
		assert.Equal(t, "parsing", ev.Stage)
		assert.Equal(t, domain.JobStateRunning, ev.State)
	})
	t.Run("completed", func(t *testing.T) {
		ev, ok := DecodeJobEvent([]byte(`{"jobId":"j1","conversationId":"c1","progress":80,"message":{"id":"m","content":"sum"}}`), domain.JobStateCompleted, "me")
		require.True(t, ok)
		assert.Equal(t, domain.JobStateCompleted, ev.State)
		assert.Equal(t, 100.0, ev.Progress)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "j1", ev.Message.CrawlJobID)
		assert.Equal(t, "c1", ev.Message.ConversationID)
	})
	t.Run("failed", func(t *testing.T) {
		ev, ok := DecodeJobEvent([]byte(`{"jobId":"j1","status":"FAILED","progress":40}`), domain.JobStateCompleted, "me")
		require.True(t, ok)
		assert.Equal(t, domain.JobStateFailed, ev.State)
		assert.Equal(t, 40.0, ev.Progress)

		ev, ok = DecodeJobEvent([]byte(`{"jobId":"j1","error":"timeout"}`), domain.JobStateCompleted, "me")
		require.True(t, ok)
		assert.Equal(t, domain.JobStateFailed, ev.State)
		assert.Equal(t, "timeout", ev.Error)
	})
	t.Run("bare id", func(t *testing.T) {
		ev, ok := DecodeJobEvent([]byte(`"j9"`), domain.JobStateStarted, "me")
		require.True(t, ok)
		assert.Equal(t, "j9", ev.JobID)
	})
	t.Run("missing id", func(t *testing.T) {
		_, ok := DecodeJobEvent([]byte(`{"progress":5}`), domain.JobStateRunning, "me")
		assert.False(t, ok)
		_, ok = DecodeJobEvent([]byte(`[1]`), domain.JobStateRunning, "me")
		assert.False(t, ok)
	})
}

func TestDecodeError(t *testing.T) {
	assert.Equal(t, "denied", DecodeError([]byte(`{"message":"denied"}`)))
	assert.Equal(t, "plain", DecodeError([]byte(`"plain"`)))
	assert.Equal(t, "not json", DecodeError([]byte(`not json`)))
}

func TestTimeAndFloat(t *testing.T) {
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Time(Parse([]byte(`"2025-03-01T12:00:00Z"`))))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), Time(Parse([]byte(`1700000000`))))
	assert.True(t, Time(Parse([]byte(`"yesterday"`))).IsZero())
	assert.True(t, Time(Parse([]byte(`-5`))).IsZero())

	f, ok := Float(Parse([]byte(`"1,204.5"`)))
	assert.True(t, ok)
	assert.Equal(t, 1204.5, f)
	_, ok = Float(Parse([]byte(`"n/a"`)))
	assert.False(t, ok)
	_, ok = Float(Parse([]byte(`{}`)))
	assert.False(t, ok)

	for _, raw := range []string{`"NaN"`, `"Inf"`, `"-Infinity"`, `1e999`} {
		_, ok = Float(Parse([]byte(raw)))
		assert.False(t, ok, raw)
	}
}
