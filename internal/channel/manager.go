package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/wire"
	"go.uber.org/zap"
)

// Options configures a Manager
type Options struct {
	Name       Name
	Dialer     Dialer
	Normalizer Normalizer
	// Topics lists the subscription kinds this channel accepts
	Topics []TopicKind
	// Sink receives every event; it is called from the manager's goroutines
	Sink func(Event)
	// Reconnect re-enters connecting after a dropped connection
	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
}

// Manager owns one realtime connection
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	subs    map[Topic]struct{}
	lastErr error
	gen     uint64
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = func(Event) {}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Manager{
		opts:   opts,
		logger: logger.With(zap.String("channel", string(opts.Name))),
		state:  StateDisconnected,
		subs:   make(map[Topic]struct{}),
	}
}

// Name returns the channel name
func (m *Manager) Name() Name { return m.opts.Name }

// Connect starts establishing the session in the background. Calling it while
// connecting or connected does nothing. Completion arrives as a state event.
func (m *Manager) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ev := m.setState(StateConnecting, nil)
	m.wg.Add(1)
	m.mu.Unlock()

	m.emit(ev)
	go m.run(runCtx, gen)
	return nil
}

// Disconnect tears the session down and drops all subscriptions.
// Calling it while disconnected does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected && m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.subs = make(map[Topic]struct{})
	ev := m.setState(StateDisconnected, nil)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.logger.Info("Channel disconnected")
	m.emit(ev)
}

// Close disconnects and waits for background goroutines to exit
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Subscribe registers interest in a topic. It fails with ErrNotConnected
// while the channel is not connected; the error is also kept as LastError.
func (m *Manager) Subscribe(ctx context.Context, topic Topic) error {
	return m.subscription(ctx, topic, true)
}

// Unsubscribe drops interest in a topic
func (m *Manager) Unsubscribe(ctx context.Context, topic Topic) error {
	return m.subscription(ctx, topic, false)
}

func (m *Manager) subscription(ctx context.Context, topic Topic, add bool) error {
	if !m.supports(topic.Kind) {
		return fmt.Errorf("%w: %s on %s", domain.ErrUnknownTopic, topic.Kind, m.opts.Name)
	}
	if topic.ID == "" {
		return fmt.Errorf("%w: empty %s id", domain.ErrInvalidRequest, topic.Kind)
	}

	m.mu.Lock()
	conn := m.conn
	if m.state != StateConnected || conn == nil {
		err := fmt.Errorf("subscribe %s: %w", topic, domain.ErrNotConnected)
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("Subscription rejected", zap.String("topic", topic.String()), zap.Error(err))
		return err
	}
	_, exists := m.subs[topic]
	m.mu.Unlock()
	if exists == add {
		return nil
	}

	frameType := wire.FrameSubscribe
	if !add {
		frameType = wire.FrameUnsubscribe
	}
	frame, err := wire.NewFrame(frameType, topic)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, frame); err != nil {
		err = fmt.Errorf("%s %s: %w", frameType, topic, err)
		m.recordError(err)
		return err
	}

	m.mu.Lock()
	if m.conn == conn {
		if add {
			m.subs[topic] = struct{}{}
		} else {
			delete(m.subs, topic)
		}
	}
	m.mu.Unlock()
	m.logger.Debug("Subscription updated", zap.String("frame", frameType), zap.String("topic", topic.String()))
	return nil
}

// Send writes an application frame. It fails with ErrNotConnected while the
// channel is not connected.
func (m *Manager) Send(ctx context.Context, frameType string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	if m.state != StateConnected || conn == nil {
		err := fmt.Errorf("send %s: %w", frameType, domain.ErrNotConnected)
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	frame, err := wire.NewFrame(frameType, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", frameType, err)
	}
	if err := conn.Write(ctx, frame); err != nil {
		err = fmt.Errorf("send %s: %w", frameType, err)
		m.recordError(err)
		return err
	}
	return nil
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport or remote error
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscriptions returns the active topics, sorted
func (m *Manager) Subscriptions() []Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topicsLocked()
}

// Status returns a snapshot of the manager
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Channel:       m.opts.Name,
		State:         m.state,
		Subscriptions: m.topicsLocked(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) topicsLocked() []Topic {
	out := make([]Topic, 0, len(m.subs))
	for t := range m.subs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Manager) supports(kind TopicKind) bool {
	for _, k := range m.opts.Topics {
		if k == kind {
			return true
		}
	}
	return false
}

// setState must be called with mu held; the returned event is emitted after unlock
func (m *Manager) setState(s State, err error) Event {
	m.state = s
	return Event{Channel: m.opts.Name, Type: EventStateChanged, State: s, Err: err, At: time.Now()}
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("Channel error", zap.Error(err))
}

func (m *Manager) emit(ev Event) {
	if ev.Channel == "" {
		ev.Channel = m.opts.Name
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.opts.Sink(ev)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	defer m.wg.Done()
	backoff := m.opts.InitialBackoff

	for {
		conn, err := m.opts.Dialer.Dial(ctx)
		if err == nil {
			if !m.attach(gen, conn) {
				conn.Close()
				return
			}
			backoff = m.opts.InitialBackoff
			err = m.read(ctx, gen, conn)
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		if !m.fail(gen, err) {
			return
		}

		m.logger.Info("Reconnecting", zap.Duration("backoff", backoff))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > m.opts.MaxBackoff {
			backoff = m.opts.MaxBackoff
		}
	}
}

func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.lastErr = nil
	ev := m.setState(StateConnected, nil)
	m.mu.Unlock()

	m.logger.Info("Channel connected")
	m.emit(ev)
	return true
}

// fail records a transport error and reports whether to retry
func (m *Manager) fail(gen uint64, err error) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.lastErr = err
	m.conn = nil
	m.subs = make(map[Topic]struct{})
	next := StateDisconnected
	if m.opts.Reconnect {
		next = StateConnecting
	} else if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	ev := m.setState(next, err)
	m.mu.Unlock()

	m.logger.Warn("Channel dropped", zap.Error(err), zap.String("next", string(next)))
	m.emit(ev)
	return m.opts.Reconnect
}

func (m *Manager) read(ctx context.Context, gen uint64, conn Conn) error {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ev, ok := m.opts.Normalizer(f)
		if !ok {
			m.logger.Debug("Dropped frame", zap.String("type", f.Type))
			continue
		}
		if !m.current(gen) {
			return context.Canceled
		}
		if ev.Type == EventError {
			m.recordError(ev.Err)
		}
		m.emit(ev)
	}
}
