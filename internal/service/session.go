package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/crawldesk/internal/channel"
	"github.com/liliang-cn/crawldesk/internal/conversation"
	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/history"
	"github.com/liliang-cn/crawldesk/internal/wire"
	"go.uber.org/zap"
)

// HistoryService loads stored messages of a conversation.
// A nil slice with a nil error means the conversation has no history.
type HistoryService interface {
	FetchMessages(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error)
}

// ResultsService loads the extracted items of a crawl job
type ResultsService interface {
	FetchResults(ctx context.Context, jobID string) ([]domain.ResultItem, error)
}

// MessageCache keeps the last loaded history of each conversation
type MessageCache interface {
	SaveMessages(conversationID string, messages []domain.Message) error
	GetMessages(conversationID string) ([]domain.Message, error)
}

// ResultCache keeps the last fetched results of each job
type ResultCache interface {
	SaveResults(jobID, conversationID string, items []domain.ResultItem) error
	GetResults(jobID string) ([]domain.ResultItem, error)
}

// Identity is the local participant
type Identity struct {
	UserID   string
	UserName string
}

// Options wires a Session to its collaborators. Cache fields are optional.
type Options struct {
	Identity   Identity
	ChatDialer channel.Dialer
	JobsDialer channel.Dialer
	Reconnect  bool

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	History  HistoryService
	Results  ResultsService
	Messages MessageCache
	Cache    ResultCache

	PageSize int
	MaxPages int

	AssignmentID string
	GroupID      string

	Logger *zap.Logger
}

// Session drives one crawl conversation. All conversation state is owned by
// a single loop goroutine; public methods post work to it and wait.
type Session struct {
	opts   Options
	logger *zap.Logger
	chat   *channel.Manager
	jobs   *channel.Manager

	inbox    *queue
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	closed   sync.Once
	fetches  sync.WaitGroup

	watchMu  sync.Mutex
	watchers map[chan uint64]struct{}
	revision atomic.Uint64

	// loop-owned
	conversationID string
	assignmentID   string
	groupID        string
	store          *conversation.Store
	index          *history.Index
	known          map[string]struct{}
	pending        map[string]struct{}
	statuses       map[string]domain.JobStatus
	results        map[string][]domain.ResultItem
	shownJob       string
	resultsErr     string
	loading        bool
	historyErr     string
	rendered       map[string]renderedMessage
}

// NewSession creates a session. Nothing connects until Start.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:         opts,
		logger:       logger,
		inbox:        newQueue(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		watchers:     make(map[chan uint64]struct{}),
		assignmentID: opts.AssignmentID,
		groupID:      opts.GroupID,
		store:        conversation.NewStore(logger),
		index:        history.NewIndex(),
		known:        make(map[string]struct{}),
		pending:      make(map[string]struct{}),
		statuses:     make(map[string]domain.JobStatus),
		results:      make(map[string][]domain.ResultItem),
		rendered:     make(map[string]renderedMessage),
	}

	sink := func(ev channel.Event) {
		s.inbox.push(func() { s.handleEvent(ev) })
	}
	s.chat = channel.NewManager(channel.Options{
		Name:           channel.Chat,
		Dialer:         opts.ChatDialer,
		Normalizer:     channel.ChatNormalizer(opts.Identity.UserID),
		Topics:         []channel.TopicKind{channel.TopicAssignment, channel.TopicGroup},
		Sink:           sink,
		Reconnect:      opts.Reconnect,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
		Logger:         logger,
	})
	s.jobs = channel.NewManager(channel.Options{
		Name:           channel.Jobs,
		Dialer:         opts.JobsDialer,
		Normalizer:     channel.JobNormalizer(opts.Identity.UserID),
		Topics:         []channel.TopicKind{channel.TopicAssignment, channel.TopicGroup, channel.TopicJob},
		Sink:           sink,
		Reconnect:      opts.Reconnect,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
		Logger:         logger,
	})
	return s
}

// Start activates the conversation and connects both channels. An empty id
// starts a fresh conversation; otherwise its history is loaded.
func (s *Session) Start(ctx context.Context, conversationID string) (string, error) {
	if !s.started.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: already started", domain.ErrInvalidRequest)
	}
	go s.loop()

	id, err := s.activate(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if err := s.chat.Connect(ctx); err != nil {
		return "", fmt.Errorf("failed to connect chat channel: %w", err)
	}
	if err := s.jobs.Connect(ctx); err != nil {
		return "", fmt.Errorf("failed to connect jobs channel: %w", err)
	}
	s.logger.Info("Session started", zap.String("conversation_id", id))
	return id, nil
}

// Dispose disconnects both channels and stops the loop. Pending async work
// is cancelled and its results discarded. Safe to call more than once.
func (s *Session) Dispose() {
	s.closed.Do(func() {
		close(s.done)
		s.cancel()
		if s.started.Load() {
			<-s.loopDone
		}
		s.chat.Close()
		s.jobs.Close()
		s.fetches.Wait()

		s.watchMu.Lock()
		for ch := range s.watchers {
			close(ch)
		}
		s.watchers = nil
		s.watchMu.Unlock()
		s.logger.Info("Session disposed")
	})
}

// SendMessage sends a chat message on the conversational channel. The
// message appears in the conversation when the channel echoes it back.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	return s.send(ctx, content, domain.KindChat)
}

// StartCrawl asks the agent to crawl. Progress is tracked once the channel
// reports the crawl job id.
func (s *Session) StartCrawl(ctx context.Context, prompt string) error {
	return s.send(ctx, prompt, domain.KindCrawlRequest)
}

func (s *Session) send(ctx context.Context, content string, kind domain.Kind) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidRequest)
	}
	var msg domain.OutgoingMessage
	err := s.do(ctx, func() {
		msg = domain.OutgoingMessage{
			ConversationID: s.conversationID,
			SenderID:       s.opts.Identity.UserID,
			SenderName:     s.opts.Identity.UserName,
			Content:        content,
			AssignmentID:   s.assignmentID,
			GroupID:        s.groupID,
			Kind:           kind,
		}
	})
	if err != nil {
		return err
	}
	if err := s.chat.Send(ctx, wire.FrameSendMessage, msg); err != nil {
		s.bump()
		return err
	}
	s.logger.Debug("Message sent", zap.String("conversation_id", msg.ConversationID), zap.String("kind", string(kind)))
	return nil
}

// NewConversation switches to a freshly generated conversation id
func (s *Session) NewConversation(ctx context.Context) (string, error) {
	return s.activate(ctx, "")
}

// SwitchConversation replaces the active conversation and loads its history
func (s *Session) SwitchConversation(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", domain.ErrInvalidRequest)
	}
	_, err := s.activate(ctx, conversationID)
	return err
}

func (s *Session) activate(ctx context.Context, conversationID string) (string, error) {
	load := conversationID != ""
	if !load {
		conversationID = uuid.New().String()
	}
	err := s.do(ctx, func() { s.switchTo(conversationID, load) })
	return conversationID, err
}

// Navigate moves the history cursor one step and fetches that job's
// results. It reports false when the move was ignored.
func (s *Session) Navigate(ctx context.Context, dir history.Direction) (bool, error) {
	var moved bool
	err := s.do(ctx, func() {
		if jobID, ok := s.index.Navigate(dir); ok {
			moved = true
			s.fetchResults(jobID)
			s.bump()
		}
	})
	return moved, err
}

// SelectIndex moves the history cursor to i with the same rules as Navigate
func (s *Session) SelectIndex(ctx context.Context, i int) (bool, error) {
	var moved bool
	err := s.do(ctx, func() {
		if jobID, ok := s.index.SelectIndex(i); ok {
			moved = true
			s.fetchResults(jobID)
			s.bump()
		}
	})
	return moved, err
}

// SetContext changes the assignment and group topics followed on both channels
func (s *Session) SetContext(ctx context.Context, assignmentID, groupID string) error {
	return s.do(ctx, func() {
		if assignmentID == s.assignmentID && groupID == s.groupID {
			return
		}
		for _, m := range []*channel.Manager{s.chat, s.jobs} {
			for _, t := range s.contextTopics() {
				s.unsubscribe(m, t)
			}
		}
		s.assignmentID, s.groupID = assignmentID, groupID
		for _, m := range []*channel.Manager{s.chat, s.jobs} {
			for _, t := range s.contextTopics() {
				s.subscribe(m, t)
			}
		}
		s.bump()
	})
}

// ConversationID returns the active conversation id
func (s *Session) ConversationID(ctx context.Context) (string, error) {
	var id string
	err := s.do(ctx, func() { id = s.conversationID })
	return id, err
}

// do runs fn on the loop and waits for it
func (s *Session) do(ctx context.Context, fn func()) error {
	if !s.started.Load() {
		return fmt.Errorf("session not started: %w", domain.ErrSessionClosed)
	}
	finished := make(chan struct{})
	s.inbox.push(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.done:
			return
		case <-s.inbox.notify:
			for _, fn := range s.inbox.drain() {
				select {
				case <-s.done:
					return
				default:
				}
				fn()
			}
		}
	}
}

// switchTo clears all per-conversation state. Work stamped with the old id
// is discarded when it arrives.
func (s *Session) switchTo(conversationID string, load bool) {
	if conversationID == s.conversationID {
		return
	}
	for jobID := range s.pending {
		s.unsubscribe(s.jobs, channel.Topic{Kind: channel.TopicJob, ID: jobID})
	}
	s.conversationID = conversationID
	s.store.Reset()
	s.index.Reset()
	s.known = make(map[string]struct{})
	s.pending = make(map[string]struct{})
	s.statuses = make(map[string]domain.JobStatus)
	s.results = make(map[string][]domain.ResultItem)
	s.rendered = make(map[string]renderedMessage)
	s.shownJob = ""
	s.resultsErr = ""
	s.historyErr = ""
	s.loading = false
	s.logger.Info("Conversation activated", zap.String("conversation_id", conversationID), zap.Bool("resume", load))

	if load {
		s.loadHistory(conversationID)
	}
	s.bump()
}

func (s *Session) contextTopics() []channel.Topic {
	var topics []channel.Topic
	if s.assignmentID != "" {
		topics = append(topics, channel.Topic{Kind: channel.TopicAssignment, ID: s.assignmentID})
	}
	if s.groupID != "" {
		topics = append(topics, channel.Topic{Kind: channel.TopicGroup, ID: s.groupID})
	}
	return topics
}

func (s *Session) subscribe(m *channel.Manager, t channel.Topic) {
	if m.State() != channel.StateConnected {
		return
	}
	if err := m.Subscribe(s.ctx, t); err != nil {
		s.logger.Warn("Subscribe failed", zap.String("channel", string(m.Name())), zap.String("topic", t.String()), zap.Error(err))
	}
}

func (s *Session) unsubscribe(m *channel.Manager, t channel.Topic) {
	if m.State() != channel.StateConnected {
		return
	}
	if err := m.Unsubscribe(s.ctx, t); err != nil {
		s.logger.Debug("Unsubscribe failed", zap.String("channel", string(m.Name())), zap.String("topic", t.String()), zap.Error(err))
	}
}

// spawn runs fn off the loop; Dispose cancels its context and waits for it
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		fn(s.ctx)
	}()
}

// post delivers an async completion back to the loop
func (s *Session) post(fn func()) {
	s.inbox.push(fn)
}

// queue is the unbounded loop inbox. Producers never block, so channel
// goroutines cannot stall on a busy loop.
type queue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
