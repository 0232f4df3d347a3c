package service

import (
	"context"

	"github.com/liliang-cn/crawldesk/internal/channel"
	"github.com/liliang-cn/crawldesk/internal/chart"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/render"
)

// Channel status labels shown to users
const (
	StatusConnected  = "connected"
	StatusConnecting = "connecting"
	StatusOffline    = "offline"
)

// ChannelView describes one realtime channel
type ChannelView struct {
	Name          channel.Name    `json:"name"`
	Status        string          `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	Subscriptions []channel.Topic `json:"subscriptions"`
}

// MessageView is a message with its rendered content
type MessageView struct {
	domain.Message
	HTML   string         `json:"html"`
	Images []render.Image `json:"images,omitempty"`
	Chart  *chart.Spec    `json:"chart,omitempty"`
}

// View is a consistent snapshot of the session
type View struct {
	Revision       uint64                      `json:"revision"`
	ConversationID string                      `json:"conversation_id"`
	AssignmentID   string                      `json:"assignment_id,omitempty"`
	GroupID        string                      `json:"group_id,omitempty"`
	Chat           ChannelView                 `json:"chat"`
	Jobs           ChannelView                 `json:"jobs"`
	Loading        bool                        `json:"loading"`
	HistoryError   string                      `json:"history_error,omitempty"`
	Messages       []MessageView               `json:"messages"`
	History        []domain.JobHistoryEntry    `json:"history"`
	Cursor         int                         `json:"cursor"`
	CurrentJobID   string                      `json:"current_job_id,omitempty"`
	Fetching       bool                        `json:"fetching"`
	ResultsJobID   string                      `json:"results_job_id,omitempty"`
	Results        []domain.ResultItem         `json:"results"`
	ResultsError   string                      `json:"results_error,omitempty"`
	JobStatuses    map[string]domain.JobStatus `json:"job_statuses"`
}

// renderedMessage memoizes render output for one revision of a message
type renderedMessage struct {
	content string
	payload string
	result  render.Result
	chart   *chart.Spec
}

// View returns the current read model
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.snapshot() })
	return v, err
}

func (s *Session) snapshot() View {
	v := View{
		Revision:       s.revision.Load(),
		ConversationID: s.conversationID,
		AssignmentID:   s.assignmentID,
		GroupID:        s.groupID,
		Chat:           channelView(s.chat.Status()),
		Jobs:           channelView(s.jobs.Status()),
		Loading:        s.loading,
		HistoryError:   s.historyErr,
		History:        s.index.Entries(),
		Cursor:         s.index.Cursor(),
		Fetching:       s.index.Fetching(),
		ResultsError:   s.resultsErr,
		JobStatuses:    make(map[string]domain.JobStatus, len(s.statuses)),
		Results:        []domain.ResultItem{},
	}
	for id, st := range s.statuses {
		v.JobStatuses[id] = st
	}

	msgs := s.store.Snapshot()
	v.Messages = make([]MessageView, len(msgs))
	for i, m := range msgs {
		r := s.renderMessage(m)
		v.Messages[i] = MessageView{Message: m, HTML: r.result.HTML, Images: r.result.Images, Chart: r.chart}
	}

	if e, ok := s.index.Current(); ok {
		v.CurrentJobID = e.JobID
	}
	if items, ok := s.results[s.shownJob]; ok {
		v.ResultsJobID = s.shownJob
		v.Results = append(v.Results, items...)
	}
	return v
}

// renderMessage renders lazily and reuses the output until the content or
// chart payload changes
func (s *Session) renderMessage(m domain.Message) renderedMessage {
	if r, ok := s.rendered[m.ID]; ok && r.content == m.Content && r.payload == m.VisualizationPayload {
		return r
	}
	r := renderedMessage{
		content: m.Content,
		payload: m.VisualizationPayload,
		result:  render.Render(m.Content),
	}
	if m.VisualizationPayload != "" {
		r.chart = chart.Adapt(m.VisualizationPayload)
	}
	s.rendered[m.ID] = r
	return r
}

func channelView(st channel.Status) ChannelView {
	v := ChannelView{
		Name:          st.Channel,
		LastError:     st.LastError,
		Subscriptions: st.Subscriptions,
	}
	switch st.State {
	case channel.StateConnected:
		v.Status = StatusConnected
	case channel.StateConnecting:
		v.Status = StatusConnecting
	default:
		v.Status = StatusOffline
	}
	return v
}

// Watch returns a channel that receives the latest revision after every
// change, and a function to stop watching. The channel is closed when the
// session is disposed.
func (s *Session) Watch() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.watchMu.Lock()
	if s.watchers == nil {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}
}

// bump publishes a new revision; slow watchers only see the latest
func (s *Session) bump() {
	rev := s.revision.Add(1)
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- rev
	}
}
