// ABOUTME: Ordered per-conversation message stream with optimistic local echo.
// ABOUTME: Server copies of locally sent messages are suppressed by message ID.

package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helio-ai/console/internal/dedupe"
	"github.com/helio-ai/console/internal/realtime"
	"github.com/helio-ai/console/internal/wire"
)

// echoTTL bounds how long a locally sent message ID is remembered for
// server-echo suppression. Echoes arrive within one round trip; anything
// older is a different message reusing nothing.
const echoTTL = 5 * time.Minute

// Sender transmits a composed message to the backend. The realtime manager
// satisfies this.
type Sender interface {
	SendMessage(msg wire.Message) error
}

// Stream holds the ordered message list for one conversation and keeps it
// current from realtime events. Locally sent messages appear synchronously
// (optimistic echo); the server's copy is recognized by ID and dropped.
type Stream struct {
	conversationID string
	sender         Sender
	selfID         string
	logger         *slog.Logger

	sent *dedupe.Cache

	mu        sync.RWMutex
	msgs      []wire.Message
	seen      map[string]struct{}
	composing bool

	subs    []*realtime.Subscription
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the stream's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a stream for one conversation. selfID is the local user; it is
// stamped onto optimistic echoes.
func New(conversationID string, sender Sender, selfID string, opts ...Option) *Stream {
	s := &Stream{
		conversationID: conversationID,
		sender:         sender,
		selfID:         selfID,
		logger:         slog.Default(),
		sent:           dedupe.New(echoTTL, 1024),
		seen:           make(map[string]struct{}),
		changes:        make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream", "conversation_id", conversationID)
	return s
}

// Attach subscribes the stream to the manager's message and typing events and
// starts the consuming goroutine. Call once per stream.
func (s *Stream) Attach(mgr *realtime.Manager) {
	subs := []*realtime.Subscription{
		mgr.Subscribe(wire.EventNewMessage),
		mgr.Subscribe(wire.EventAgentResponse),
		mgr.Subscribe(wire.EventTypingStart),
		mgr.Subscribe(wire.EventTypingStop),
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()

	go s.consume(subs)
}

// Send appends the message to the local stream synchronously and then
// transmits it. The append happens even if transmission fails; the caller
// decides whether to queue the action offline.
func (s *Stream) Send(text string) (wire.Message, error) {
	msg := wire.Message{
		ID:             uuid.NewString(),
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		Role:           wire.RoleUser,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}

	s.sent.Mark(msg.ID)
	s.append(msg)

	if err := s.sender.SendMessage(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Messages returns a copy of the ordered stream.
func (s *Stream) Messages() []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// AgentComposing reports whether the agent is currently composing a reply.
func (s *Stream) AgentComposing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composing
}

// Seed replaces the stream contents, typically from a cached snapshot.
// Messages already present by ID are not duplicated by later events.
func (s *Stream) Seed(msgs []wire.Message) {
	s.mu.Lock()
	s.msgs = make([]wire.Message, len(msgs))
	copy(s.msgs, msgs)
	s.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			s.seen[m.ID] = struct{}{}
		}
	}
	s.mu.Unlock()
	s.signal()
}

// Clear empties the stream.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.seen = make(map[string]struct{})
	s.composing = false
	s.mu.Unlock()
	s.signal()
}

// Changes signals whenever the stream or the composing flag changes. The
// channel is coalescing.
func (s *Stream) Changes() <-chan struct{} {
	return s.changes
}

// Close cancels the event subscriptions and stops the consuming goroutine.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Cancel()
		}
		s.sent.Close()
	})
}

func (s *Stream) consume(subs []*realtime.Subscription) {
	// Merge the per-kind channels; each subscription is buffered so a slow
	// merge cannot block the manager's read loop.
	merged := make(chan wire.Event)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(c <-chan wire.Event) {
			defer wg.Done()
			for ev := range c {
				select {
				case merged <- ev:
				case <-s.done:
					return
				}
			}
		}(sub.C)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-merged:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Stream) handle(ev wire.Event) {
	switch e := ev.(type) {
	case wire.MessageEvent:
		s.ingest(e.Message, false)
	case wire.AgentResponseEvent:
		s.ingest(e.Message, true)
	case wire.TypingEvent:
		if e.ConversationID != s.conversationID || e.Role != wire.RoleAgent {
			return
		}
		s.setComposing(e.Started)
	}
}

func (s *Stream) ingest(msg wire.Message, fromAgent bool) {
	if msg.ConversationID != s.conversationID {
		return
	}
	// The server echoes locally sent messages back on the broadcast path;
	// they are already in the stream.
	if msg.ID != "" && s.sent.Seen(msg.ID) {
		s.logger.Debug("suppressed server echo", "message_id", msg.ID)
		return
	}
	if fromAgent {
		s.setComposing(false)
	}
	s.append(msg)
}

func (s *Stream) append(msg wire.Message) {
	s.mu.Lock()
	if msg.ID != "" {
		if _, dup := s.seen[msg.ID]; dup {
			s.mu.Unlock()
			return
		}
		s.seen[msg.ID] = struct{}{}
	}
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *Stream) setComposing(on bool) {
	s.mu.Lock()
	changed := s.composing != on
	s.composing = on
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

func (s *Stream) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
