// ABOUTME: Connection manager: owns the single realtime session and its lifecycle.
// ABOUTME: Bounded transport-owned reconnection; auth rejections tear down without retry.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helio-ai/console/internal/auth"
	"github.com/helio-ai/console/internal/config"
	"github.com/helio-ai/console/internal/notify"
	"github.com/helio-ai/console/internal/wire"
)

// Manager errors
var (
	// ErrNotConnected is returned by SendMessage when no session is live.
	// Callers needing durability enqueue into the offline layer instead.
	ErrNotConnected = errors.New("not connected")
	// ErrAuthRejected means the server explicitly refused the credential.
	// Auth failures are never retried; they require a fresh credential.
	ErrAuthRejected = errors.New("authentication rejected")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateSubscription is a cancellable handle on state transitions.
type StateSubscription struct {
	C    <-chan State
	once sync.Once
	stop func()
}

// Cancel detaches the subscription and closes its channel. Safe to call twice.
func (s *StateSubscription) Cancel() {
	s.once.Do(s.stop)
}

// Manager owns the single persistent socket session: it authenticates the
// handshake, re-establishes the session after transient failures up to the
// configured cap, and fans decoded events out to subscribers.
type Manager struct {
	socketURL string
	cfg       config.RealtimeConfig
	dialer    Dialer
	notifier  *notify.Notifier
	logger    *slog.Logger
	bc        *broadcaster

	mu        sync.Mutex
	state     State
	conn      Conn
	cred      auth.Credential
	joined    map[string]struct{}
	gen       int // connection generation; stale read loops are ignored
	closed    bool
	stateSubs map[string]chan State
}

// NewManager creates a connection manager for the given socket endpoint.
// Pass nil dialer for the production websocket transport.
func NewManager(socketURL string, cfg config.RealtimeConfig, dialer Dialer, notifier *notify.Notifier, logger *slog.Logger) *Manager {
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	if notifier == nil {
		notifier = notify.New(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime")

	if cfg.ReconnectCap < 1 {
		cfg.ReconnectCap = 5
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 10 * time.Second
	}

	return &Manager{
		socketURL: socketURL,
		cfg:       cfg,
		dialer:    dialer,
		notifier:  notifier,
		logger:    logger,
		bc:        newBroadcaster(logger),
		state:     StateDisconnected,
		joined:    make(map[string]struct{}),
		stateSubs: make(map[string]chan State),
	}
}

// Connect establishes the session with the given credential. A no-op unless
// currently disconnected. An absent credential fails silently into the
// disconnected state. A transient dial failure hands over to the bounded
// reconnect loop; only an authentication rejection is returned as an error.
func (m *Manager) Connect(ctx context.Context, cred auth.Credential) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	if !cred.Present() {
		m.logger.Warn("credentials absent, staying disconnected")
		m.mu.Unlock()
		return nil
	}
	m.cred = cred
	m.closed = false
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	// A token the client can already see is expired will only bounce off the
	// server; classify it as an auth failure without dialing.
	if _, err := auth.ParseIdentity(cred.Token); errors.Is(err, auth.ErrExpiredToken) {
		m.failAuth("token expired")
		return fmt.Errorf("%w: token expired", ErrAuthRejected)
	}

	conn, err := m.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			m.failAuth(err.Error())
			return err
		}
		m.logger.Warn("initial connect failed, retrying", "error", err)
		m.notifier.Publish(notify.SeverityWarning, "Connection failed, retrying")
		m.mu.Lock()
		m.setStateLocked(StateReconnecting)
		m.mu.Unlock()
		go m.reconnectLoop(false)
		return nil
	}

	m.adopt(conn)
	return nil
}

// Disconnect tears down the session. Idempotent; no reconnection follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// JoinConversation subscribes the session to a conversation's events.
// Guarded fire-and-forget: a no-op when not connected, never queued.
// Joined conversations are re-joined after a successful reconnect.
func (m *Manager) JoinConversation(id string) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	m.joined[id] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	return conn.WriteJSON(wire.JoinFrame(id))
}

// LeaveConversation unsubscribes from a conversation. Guarded like Join.
func (m *Manager) LeaveConversation(id string) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	delete(m.joined, id)
	conn := m.conn
	m.mu.Unlock()

	return conn.WriteJSON(wire.LeaveFrame(id))
}

// SendMessage stamps and transmits a message. Returns ErrNotConnected when no
// session is live — the message is dropped, not queued; durable sends go
// through the offline layer.
func (m *Manager) SendMessage(msg wire.Message) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	return conn.WriteJSON(wire.SendFrame(msg))
}

// StartTyping broadcasts a typing-start signal. Guarded no-op when not connected.
func (m *Manager) StartTyping(conversationID string) error {
	return m.sendTyping(conversationID, true)
}

// StopTyping broadcasts a typing-stop signal. Guarded no-op when not connected.
func (m *Manager) StopTyping(conversationID string) error {
	return m.sendTyping(conversationID, false)
}

func (m *Manager) sendTyping(conversationID string, started bool) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	return conn.WriteJSON(wire.TypingFrame(conversationID, started))
}

// Subscribe registers for one event kind and returns a cancellable handle.
func (m *Manager) Subscribe(kind wire.EventKind) *Subscription {
	return m.bc.subscribe(kind)
}

// SubscribeStates registers for lifecycle state transitions.
func (m *Manager) SubscribeStates() *StateSubscription {
	id := uuid.New().String()
	ch := make(chan State, 8)

	m.mu.Lock()
	m.stateSubs[id] = ch
	m.mu.Unlock()

	return &StateSubscription{
		C: ch,
		stop: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if got, ok := m.stateSubs[id]; ok {
				delete(m.stateSubs, id)
				close(got)
			}
		},
	}
}

// Close disconnects and releases all subscriptions.
func (m *Manager) Close() {
	m.Disconnect()
	m.bc.close()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.stateSubs {
		close(ch)
		delete(m.stateSubs, id)
	}
}

// dial establishes a socket and performs the auth handshake: the first frame
// must be a connection acknowledgment or an explicit auth rejection.
func (m *Manager) dial(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.socketURL, cred)
	if err != nil {
		return nil, err
	}

	data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake read: %w", err)
	}

	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake decode: %w", err)
	}

	ev, err := wire.Decode(env)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake decode: %w", err)
	}

	switch ev := ev.(type) {
	case wire.ConnectedEvent:
		return conn, nil
	case wire.AuthErrorEvent:
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, ev.Reason)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake event %q", ev.Kind())
	}
}

// adopt installs a freshly handshaken connection, re-joins subscribed
// conversations, and starts its read loop. Returns false if the manager was
// closed while the dial was in flight.
func (m *Manager) adopt(conn Conn) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return false
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnected)
	joined := make([]string, 0, len(m.joined))
	for id := range m.joined {
		joined = append(joined, id)
	}
	m.mu.Unlock()

	for _, id := range joined {
		if err := conn.WriteJSON(wire.JoinFrame(id)); err != nil {
			m.logger.Warn("rejoin failed", "conversation_id", id, "error", err)
		}
	}

	go m.readLoop(gen, conn)
	return true
}

// readLoop pumps one connection generation until it errors out.
func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		ev, err := wire.Decode(env)
		if err != nil {
			m.logger.Warn("dropping undecodable event", "type", string(env.Type), "error", err)
			continue
		}

		m.dispatch(ev)
	}
}

// dispatch routes one decoded event. Notification events additionally surface
// through the Notifier as a delivery side effect; an auth rejection mid-session
// tears the connection down without retry.
func (m *Manager) dispatch(ev wire.Event) {
	switch ev := ev.(type) {
	case wire.AuthErrorEvent:
		m.failAuth(ev.Reason)
		return
	case wire.NotificationEvent:
		m.notifier.Publish(ev.Severity, ev.Message)
	}
	m.bc.publish(ev)
}

// handleReadError decides between teardown and reconnection for a dead
// connection. A server-sent close frame retries immediately; anything else
// backs off. Stale generations (already superseded) are ignored.
func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	var serverClosed *ServerClosedError
	immediate := errors.As(err, &serverClosed)

	m.logger.Warn("connection lost",
		"error", err,
		"server_initiated", immediate,
	)
	m.notifier.Publish(notify.SeverityWarning, "Connection lost, reconnecting")

	m.reconnectLoop(immediate)
}

// reconnectLoop re-establishes the session, up to the configured attempt cap.
// The first attempt is immediate for server-initiated disconnects; otherwise
// attempts back off exponentially from the configured base.
func (m *Manager) reconnectLoop(immediate bool) {
	for attempt := 1; attempt <= m.cfg.ReconnectCap; attempt++ {
		if !(immediate && attempt == 1) {
			time.Sleep(m.backoff(attempt))
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}

		conn, err := m.dial(context.Background())
		if err == nil {
			if m.adopt(conn) {
				m.logger.Info("reconnected", "attempt", attempt)
				m.notifier.Publish(notify.SeveritySuccess, "Connection restored")
			}
			return
		}

		if errors.Is(err, ErrAuthRejected) {
			m.failAuth(err.Error())
			return
		}

		m.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"cap", m.cfg.ReconnectCap,
			"error", err,
		)
	}

	m.mu.Lock()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.logger.Error("reconnect attempts exhausted", "cap", m.cfg.ReconnectCap)
	m.notifier.Publish(notify.SeverityError,
		fmt.Sprintf("Failed to connect after %d attempts", m.cfg.ReconnectCap))
}

// backoff returns the delay before the given attempt, doubling from the base
// and capped at the configured maximum.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.ReconnectBase << (attempt - 1)
	if d > m.cfg.ReconnectMax || d <= 0 {
		return m.cfg.ReconnectMax
	}
	return d
}

// failAuth tears down the session after an authentication rejection. No
// reconnect is scheduled: a rejected credential stays rejected until replaced.
func (m *Manager) failAuth(reason string) {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	m.logger.Error("authentication rejected", "reason", reason)
	m.notifier.Publish(notify.SeverityError, "Authentication failed: "+reason)
}

// setStateLocked transitions the state and notifies state subscribers.
// Must be called with mu held.
func (m *Manager) setStateLocked(s State) {
	if s == m.state {
		return
	}
	m.state = s
	for _, ch := range m.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
}
