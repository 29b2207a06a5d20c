// ABOUTME: Tests for the connection manager lifecycle with a scripted dialer.
// ABOUTME: Covers handshake, reconnect policy, auth rejection, and guarded operations.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helio-ai/console/internal/auth"
	"github.com/helio-ai/console/internal/config"
	"github.com/helio-ai/console/internal/notify"
	"github.com/helio-ai/console/internal/wire"
)

const connectedFrame = `{"type":"connection_established","data":{"session_id":"sess-1"}}`

type readResult struct {
	data []byte
	err  error
}

// fakeConn is a scriptable Conn: tests feed frames and errors into reads and
// inspect decoded outbound frames.
type fakeConn struct {
	mu        sync.Mutex
	reads     chan readResult
	writes    []wire.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(withHandshake bool) *fakeConn {
	c := &fakeConn{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
	if withHandshake {
		c.deliver(connectedFrame)
	}
	return c
}

func (c *fakeConn) deliver(raw string) {
	c.reads <- readResult{data: []byte(raw)}
}

func (c *fakeConn) fail(err error) {
	c.reads <- readResult{err: err}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame wire.Frame
	if err := json.Unmarshal(b, &frame); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

type dialOutcome struct {
	conn Conn
	err  error
}

// fakeDialer pops scripted outcomes; the last outcome is sticky.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	calls    int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ auth.Credential) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.outcomes) == 0 {
		return nil, errors.New("no scripted dial outcome")
	}
	o := d.outcomes[0]
	if len(d.outcomes) > 1 {
		d.outcomes = d.outcomes[1:]
	}
	return o.conn, o.err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func fastConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		ReconnectCap:  5,
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  20 * time.Millisecond,
	}
}

// slowConfig makes any backoff wait far longer than the test: a reconnect
// observed under it must have skipped the backoff entirely.
func slowConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		ReconnectCap:  5,
		ReconnectBase: time.Hour,
		ReconnectMax:  time.Hour,
	}
}

func testCred() auth.Credential {
	return auth.Credential{Token: "opaque-token", TenantID: "acme"}
}

func newTestManager(t *testing.T, dialer Dialer, cfg config.RealtimeConfig) (*Manager, *notify.Notifier) {
	t.Helper()
	notifier := notify.New(nil)
	t.Cleanup(notifier.Close)
	m := NewManager("wss://test.invalid/realtime", cfg, dialer, notifier, nil)
	t.Cleanup(m.Close)
	return m, notifier
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

func TestManager_Connect(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_Connect_EmitsStateTransitions(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	states := m.SubscribeStates()
	defer states.Cancel()

	require.NoError(t, m.Connect(context.Background(), testCred()))

	var got []State
	for len(got) < 2 {
		select {
		case s := <-states.C:
			got = append(got, s)
		case <-time.After(time.Second):
			t.Fatalf("state transitions not delivered, got %v", got)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateConnected}, got)
}

func TestManager_Connect_AlreadyConnectedIsNoop(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))
	require.NoError(t, m.Connect(context.Background(), testCred()))

	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_Connect_AbsentCredential(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, fastConfig())

	// Silent no-op: no error, no dial, stays disconnected
	require.NoError(t, m.Connect(context.Background(), auth.Credential{}))

	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, dialer.dialCount())
}

func TestManager_Connect_ExpiredTokenRejectedWithoutDialing(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer, fastConfig())

	err = m.Connect(context.Background(), auth.Credential{Token: signed, TenantID: "acme"})
	require.ErrorIs(t, err, ErrAuthRejected)

	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, dialer.dialCount())
}

func TestManager_Connect_HandshakeAuthRejection(t *testing.T) {
	conn := newFakeConn(false)
	conn.deliver(`{"type":"auth_error","data":{"reason":"token revoked"}}`)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, notifier := newTestManager(t, dialer, fastConfig())

	sub := notifier.Subscribe()
	defer sub.Cancel()

	err := m.Connect(context.Background(), testCred())
	require.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, StateDisconnected, m.State())

	// No reconnection follows an auth rejection
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())

	select {
	case n := <-sub.C:
		assert.Equal(t, notify.SeverityError, n.Severity)
		assert.Contains(t, n.Message, "Authentication failed")
	case <-time.After(time.Second):
		t.Fatal("auth failure notification not delivered")
	}
}

func TestManager_Connect_TransientFailureRetries(t *testing.T) {
	good := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{err: errors.New("connection refused")},
		{conn: good},
	}}
	m, _ := newTestManager(t, dialer, fastConfig())

	// Transient failure is not surfaced as an error; the reconnect loop owns it
	require.NoError(t, m.Connect(context.Background(), testCred()))

	waitForState(t, m, StateConnected)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestManager_ServerClose_ReconnectsImmediately(t *testing.T) {
	first := newFakeConn(true)
	second := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: first}, {conn: second}}}

	// Backoff of an hour: only the immediate first attempt can succeed in time
	m, _ := newTestManager(t, dialer, slowConfig())
	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	first.fail(&ServerClosedError{Code: 1001, Reason: "server restarting"})

	waitForState(t, m, StateConnected)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestManager_LinkDrop_BacksOffBeforeReconnect(t *testing.T) {
	first := newFakeConn(true)
	second := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: first}, {conn: second}}}

	m, _ := newTestManager(t, dialer, slowConfig())
	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	// A non-close read error must wait out the backoff before dialing
	first.fail(errors.New("read: connection reset by peer"))

	waitForState(t, m, StateReconnecting)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_ReconnectExhaustion(t *testing.T) {
	first := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{conn: first},
		{err: errors.New("connection refused")},
	}}

	cfg := fastConfig()
	cfg.ReconnectCap = 3
	m, notifier := newTestManager(t, dialer, cfg)

	sub := notifier.Subscribe()
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	first.fail(errors.New("read: connection reset by peer"))

	waitForState(t, m, StateDisconnected)
	// Initial dial plus the capped reconnect attempts
	assert.Equal(t, 1+cfg.ReconnectCap, dialer.dialCount())

	found := false
	deadline := time.After(time.Second)
	for !found {
		select {
		case n := <-sub.C:
			if n.Severity == notify.SeverityError {
				assert.Contains(t, n.Message, "Failed to connect after 3 attempts")
				found = true
			}
		case <-deadline:
			t.Fatal("terminal failure notification not delivered")
		}
	}
}

func TestManager_MidSessionAuthError_TearsDownWithoutRetry(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	conn.deliver(`{"type":"auth_error","data":{"reason":"session revoked"}}`)

	waitForState(t, m, StateDisconnected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_Disconnect_Idempotent(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())

	// No reconnection after an explicit disconnect
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_GuardedOperationsWhileDisconnected(t *testing.T) {
	m, _ := newTestManager(t, &fakeDialer{}, fastConfig())

	// Join/leave/typing are silent no-ops; only SendMessage reports the miss
	assert.NoError(t, m.JoinConversation("c1"))
	assert.NoError(t, m.LeaveConversation("c1"))
	assert.NoError(t, m.StartTyping("c1"))
	assert.NoError(t, m.StopTyping("c1"))
	assert.ErrorIs(t, m.SendMessage(wire.Message{ID: "m1"}), ErrNotConnected)
}

func TestManager_OutboundFrames(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	require.NoError(t, m.JoinConversation("c1"))
	require.NoError(t, m.StartTyping("c1"))
	require.NoError(t, m.SendMessage(wire.Message{ID: "m1", ConversationID: "c1", Content: "hi"}))
	require.NoError(t, m.StopTyping("c1"))
	require.NoError(t, m.LeaveConversation("c1"))

	frames := conn.frames()
	require.Len(t, frames, 5)
	assert.Equal(t, wire.FrameJoin, frames[0].Type)
	assert.Equal(t, wire.FrameTypingStart, frames[1].Type)
	assert.Equal(t, wire.FrameSend, frames[2].Type)
	require.NotNil(t, frames[2].Message)
	assert.Equal(t, "m1", frames[2].Message.ID)
	assert.Equal(t, wire.FrameTypingStop, frames[3].Type)
	assert.Equal(t, wire.FrameLeave, frames[4].Type)
}

func TestManager_RejoinsConversationsAfterReconnect(t *testing.T) {
	first := newFakeConn(true)
	second := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: first}, {conn: second}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)
	require.NoError(t, m.JoinConversation("c1"))

	first.fail(&ServerClosedError{Code: 1001})
	waitForState(t, m, StateConnected)

	require.Eventually(t, func() bool {
		for _, f := range second.frames() {
			if f.Type == wire.FrameJoin && f.ConversationID == "c1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "join not replayed on the new connection")
}

func TestManager_EventFanout(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	sub := m.Subscribe(wire.EventNewMessage)
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	conn.deliver(`{"type":"new_message","conversation_id":"c1","data":{"id":"m1","content":"hello"}}`)

	select {
	case ev := <-sub.C:
		msgEv, ok := ev.(wire.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, "m1", msgEv.Message.ID)
		assert.Equal(t, "c1", msgEv.Message.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered to subscriber")
	}
}

func TestManager_NotificationEventPublishesToNotifier(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, notifier := newTestManager(t, dialer, fastConfig())

	sub := notifier.Subscribe()
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	conn.deliver(`{"type":"notification","data":{"severity":"warning","message":"quota low"}}`)

	select {
	case n := <-sub.C:
		assert.Equal(t, notify.SeverityWarning, n.Severity)
		assert.Equal(t, "quota low", n.Message)
	case <-time.After(time.Second):
		t.Fatal("notification side effect not delivered")
	}
}

func TestManager_MalformedFramesAreSkipped(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m, _ := newTestManager(t, dialer, fastConfig())

	sub := m.Subscribe(wire.EventNewMessage)
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), testCred()))
	waitForState(t, m, StateConnected)

	conn.deliver(`{not json`)
	conn.deliver(`{"type":"unknown_kind"}`)
	conn.deliver(`{"type":"new_message","data":{"id":"m1","content":"still alive"}}`)

	select {
	case ev := <-sub.C:
		assert.Equal(t, "m1", ev.(wire.MessageEvent).Message.ID)
	case <-time.After(time.Second):
		t.Fatal("stream did not survive malformed frames")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}
