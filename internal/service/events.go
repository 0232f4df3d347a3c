package service

import (
	"sort"
	"time"

	"github.com/liliang-cn/crawldesk/internal/channel"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/wire"
	"go.uber.org/zap"
)

func (s *Session) handleEvent(ev channel.Event) {
	switch ev.Type {
	case channel.EventStateChanged:
		s.onState(ev)
	case channel.EventMessage:
		if ev.Message != nil && s.accept(*ev.Message) {
			s.bump()
		}
	case channel.EventCrawlInitiated:
		s.onCrawlInitiated(ev.Job)
	case channel.EventJobStarted, channel.EventJobProgress:
		s.onJobUpdate(ev.Job)
	case channel.EventJobCompleted:
		s.onJobCompleted(ev.Job)
	case channel.EventError:
		s.logger.Warn("Remote error", zap.String("channel", string(ev.Channel)), zap.Error(ev.Err))
		s.bump()
	}
}

// onState re-issues subscriptions after every successful connect
func (s *Session) onState(ev channel.Event) {
	if ev.State == channel.StateConnected {
		m := s.chat
		if ev.Channel == channel.Jobs {
			m = s.jobs
		}
		for _, t := range s.contextTopics() {
			s.subscribe(m, t)
		}
		if m == s.jobs {
			for _, jobID := range s.pendingJobs() {
				s.subscribe(m, channel.Topic{Kind: channel.TopicJob, ID: jobID})
			}
		}
	}
	s.bump()
}

// accept stores a message of the active conversation and folds it into the
// job history without moving the cursor
func (s *Session) accept(msg domain.Message) bool {
	if !s.current(msg.ConversationID) {
		s.logger.Debug("Dropped message for another conversation",
			zap.String("message_id", msg.ID), zap.String("conversation_id", msg.ConversationID))
		return false
	}
	if msg.ConversationID == "" {
		msg.ConversationID = s.conversationID
	}
	if !s.store.Upsert(msg) {
		return false
	}
	if msg.CrawlJobID != "" {
		s.known[msg.CrawlJobID] = struct{}{}
	}
	s.index.Rebuild(s.store.Snapshot(), history.ModeIncremental)
	return true
}

// onCrawlInitiated bridges a crawl started on the conversational channel to
// the job channel
func (s *Session) onCrawlInitiated(job *wire.JobEvent) {
	if job == nil || !s.current(job.ConversationID) {
		return
	}
	if job.Message != nil {
		s.accept(*job.Message)
	}
	s.track(job.JobID)
	s.bump()
}

// track subscribes a job on the job channel, now or on the next connect
func (s *Session) track(jobID string) {
	s.known[jobID] = struct{}{}
	if _, ok := s.pending[jobID]; ok {
		return
	}
	if st, ok := s.statuses[jobID]; ok && terminal(st.State) {
		return
	}
	s.pending[jobID] = struct{}{}
	s.subscribe(s.jobs, channel.Topic{Kind: channel.TopicJob, ID: jobID})
	s.logger.Info("Tracking crawl job", zap.String("job_id", jobID))
}

func (s *Session) onJobUpdate(job *wire.JobEvent) {
	if !s.relevant(job) {
		return
	}
	if job.Message != nil {
		s.accept(*job.Message)
	}
	s.setStatus(job)
	s.bump()
}

// onJobCompleted records the carried message and refreshes results. The
// cursor only moves when nothing was selected yet.
func (s *Session) onJobCompleted(job *wire.JobEvent) {
	if !s.relevant(job) {
		return
	}
	if job.Message != nil {
		s.accept(*job.Message)
	}
	s.setStatus(job)

	if _, ok := s.pending[job.JobID]; ok {
		delete(s.pending, job.JobID)
		s.unsubscribe(s.jobs, channel.Topic{Kind: channel.TopicJob, ID: job.JobID})
	}
	s.logger.Info("Crawl job finished", zap.String("job_id", job.JobID), zap.String("state", string(job.State)))

	if job.State == domain.JobStateCompleted {
		if s.index.Cursor() == history.None {
			s.selectJob(job.JobID)
		}
		s.fetchResults(job.JobID)
	}
	s.bump()
}

func (s *Session) selectJob(jobID string) {
	for i, e := range s.index.Entries() {
		if e.JobID == jobID {
			s.index.SelectIndex(i)
			return
		}
	}
}

// relevant drops job events for jobs this conversation has not seen
func (s *Session) relevant(job *wire.JobEvent) bool {
	if job == nil || !s.current(job.ConversationID) {
		return false
	}
	if _, ok := s.known[job.JobID]; !ok {
		s.logger.Debug("Dropped event for unknown job", zap.String("job_id", job.JobID))
		return false
	}
	return true
}

func (s *Session) setStatus(job *wire.JobEvent) {
	st := s.statuses[job.JobID]
	st.JobID = job.JobID
	st.State = job.State
	if job.Progress > 0 || job.State == domain.JobStateCompleted {
		st.Progress = job.Progress
	}
	if job.Stage != "" {
		st.Stage = job.Stage
	}
	st.Error = job.Error
	st.UpdatedAt = time.Now()
	s.statuses[job.JobID] = st
}

// current reports whether an event stamped with conversationID belongs to
// the active conversation; unstamped events do
func (s *Session) current(conversationID string) bool {
	return conversationID == "" || conversationID == s.conversationID
}

func (s *Session) pendingJobs() []string {
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func terminal(state domain.JobState) bool {
	return state == domain.JobStateCompleted || state == domain.JobStateFailed
}
