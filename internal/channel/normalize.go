package channel

import (
	"errors"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/wire"
)

// ChatNormalizer handles frames of the conversational channel
func ChatNormalizer(selfID string) Normalizer {
	return func(f wire.Frame) (Event, bool) {
		switch f.Type {
		case wire.FrameMessage:
			m, ok := wire.DecodeMessage(f.Data, selfID)
			if !ok {
				return Event{}, false
			}
			return Event{Type: EventMessage, Message: &m}, true
		case wire.FrameCrawlInitiated:
			job, ok := wire.DecodeJobEvent(f.Data, domain.JobStateStarted, selfID)
			if !ok {
				return Event{}, false
			}
			return Event{Type: EventCrawlInitiated, Job: &job}, true
		case wire.FrameError:
			return errorEvent(f), true
		}
		return Event{}, false
	}
}

// JobNormalizer handles frames of the job-lifecycle channel
func JobNormalizer(selfID string) Normalizer {
	return func(f wire.Frame) (Event, bool) {
		var (
			typ   EventType
			state domain.JobState
		)
		switch f.Type {
		case wire.FrameJobStarted:
			typ, state = EventJobStarted, domain.JobStateStarted
		case wire.FrameJobProgress:
			typ, state = EventJobProgress, domain.JobStateRunning
		case wire.FrameJobCompleted:
			typ, state = EventJobCompleted, domain.JobStateCompleted
		case wire.FrameError:
			return errorEvent(f), true
		default:
			return Event{}, false
		}
		job, ok := wire.DecodeJobEvent(f.Data, state, selfID)
		if !ok {
			return Event{}, false
		}
		return Event{Type: typ, Job: &job}, true
	}
}

func errorEvent(f wire.Frame) Event {
	msg := wire.DecodeError(f.Data)
	if msg == "" {
		msg = "remote error"
	}
	return Event{Type: EventError, Err: errors.New(msg)}
}
