package service

import (
	"context"
	"fmt"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"go.uber.org/zap"
)

// loadHistory fetches the stored messages of conversationID off the loop
func (s *Session) loadHistory(conversationID string) {
	if s.opts.History == nil && s.opts.Messages == nil {
		return
	}
	s.loading = true
	s.spawn(func(ctx context.Context) {
		msgs, err := s.fetchHistory(ctx, conversationID)
		s.post(func() { s.historyLoaded(conversationID, msgs, err) })
	})
}

// fetchHistory pages through the history service until a short page
func (s *Session) fetchHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if s.opts.History == nil {
		return nil, fmt.Errorf("%w: no history service", domain.ErrNotFound)
	}
	var all []domain.Message
	page := domain.Page{Limit: s.opts.PageSize}
	for i := 0; i < s.opts.MaxPages; i++ {
		batch, err := s.opts.History.FetchMessages(ctx, conversationID, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history page %d: %w", i, err)
		}
		all = append(all, batch...)
		if len(batch) < page.Limit {
			break
		}
		page.Offset += page.Limit
	}
	return all, nil
}

func (s *Session) historyLoaded(conversationID string, msgs []domain.Message, err error) {
	if conversationID != s.conversationID {
		s.logger.Debug("Discarded stale history", zap.String("conversation_id", conversationID))
		return
	}
	s.loading = false

	if err != nil {
		s.historyErr = err.Error()
		s.logger.Warn("History load failed", zap.String("conversation_id", conversationID), zap.Error(err))
		if s.opts.Messages != nil {
			cached, cerr := s.opts.Messages.GetMessages(conversationID)
			if cerr != nil {
				s.logger.Warn("History cache read failed", zap.Error(cerr))
			}
			msgs = cached
		}
	} else {
		s.historyErr = ""
	}

	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		if !s.current(m.ConversationID) {
			continue
		}
		if s.store.Upsert(m) && m.CrawlJobID != "" {
			s.known[m.CrawlJobID] = struct{}{}
		}
	}
	s.index.Rebuild(s.store.Snapshot(), history.ModeFull)

	if err == nil && s.opts.Messages != nil {
		if cerr := s.opts.Messages.SaveMessages(conversationID, s.store.Snapshot()); cerr != nil {
			s.logger.Warn("History cache write failed", zap.Error(cerr))
		}
	}
	s.logger.Info("History loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", s.store.Len()),
		zap.Int("jobs", s.index.Len()))

	if jobID, ok := s.index.Begin(); ok {
		s.fetchResults(jobID)
	}
	s.bump()
}

// fetchResults loads a job's results off the loop. Completion clears the
// cursor's in-flight gate when it belongs to the same job.
func (s *Session) fetchResults(jobID string) {
	conversationID := s.conversationID
	if s.opts.Results == nil {
		s.resultsFetched(conversationID, jobID, nil, fmt.Errorf("%w: no results service", domain.ErrNotFound))
		return
	}
	s.spawn(func(ctx context.Context) {
		items, err := s.opts.Results.FetchResults(ctx, jobID)
		s.post(func() { s.resultsFetched(conversationID, jobID, items, err) })
	})
}

// resultsFetched updates the visible results when jobID is under the
// cursor. A failed fetch keeps whatever was visible, unless the cache has
// the job's last known results.
func (s *Session) resultsFetched(conversationID, jobID string, items []domain.ResultItem, err error) {
	if conversationID != s.conversationID {
		s.logger.Debug("Discarded stale results", zap.String("job_id", jobID), zap.String("conversation_id", conversationID))
		return
	}
	s.index.FetchDone(jobID)

	if err != nil {
		s.resultsErr = err.Error()
		s.logger.Warn("Results fetch failed", zap.String("job_id", jobID), zap.Error(err))
		if s.opts.Cache != nil {
			cached, cerr := s.opts.Cache.GetResults(jobID)
			if cerr != nil {
				s.logger.Warn("Results cache read failed", zap.Error(cerr))
			} else if cached != nil {
				s.results[jobID] = cached
				s.show(jobID)
			}
		}
		s.bump()
		return
	}

	s.resultsErr = ""
	if items == nil {
		items = []domain.ResultItem{}
	}
	s.results[jobID] = items
	s.show(jobID)
	if s.opts.Cache != nil {
		if cerr := s.opts.Cache.SaveResults(jobID, conversationID, items); cerr != nil {
			s.logger.Warn("Results cache write failed", zap.Error(cerr))
		}
	}
	s.bump()
}

func (s *Session) show(jobID string) {
	if e, ok := s.index.Current(); ok && e.JobID == jobID {
		s.shownJob = jobID
	}
}
