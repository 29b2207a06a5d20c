// ABOUTME: Local typing broadcast: one start signal per burst, auto-stop on idle.
// ABOUTME: Stop is only sent if a start actually went out; no redundant signals.

package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Sender carries typing signals to the backend. The realtime manager satisfies
// this; a no-op while disconnected is acceptable.
type Sender interface {
	StartTyping(conversationID string) error
	StopTyping(conversationID string) error
}

// Broadcaster coalesces local typing activity for one conversation into at
// most one start signal per burst, and schedules an automatic stop after the
// idle window with no renewals.
type Broadcaster struct {
	sender         Sender
	conversationID string
	idle           time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	started bool
	timer   *time.Timer
}

// NewBroadcaster creates a typing broadcaster for one conversation. idle <= 0
// falls back to the 3 second default window.
func NewBroadcaster(sender Sender, conversationID string, idle time.Duration, logger *slog.Logger) *Broadcaster {
	if idle <= 0 {
		idle = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		sender:         sender,
		conversationID: conversationID,
		idle:           idle,
		logger:         logger.With("component", "typing"),
	}
}

// Start signals typing activity. The first call of a burst broadcasts a
// typing-start; repeated calls only renew the idle timer.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.started = true
		if err := b.sender.StartTyping(b.conversationID); err != nil {
			b.logger.Warn("typing start not sent", "error", err)
		}
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.idle, b.Stop)
}

// Stop cancels the pending auto-stop and broadcasts a typing-stop, but only
// if a start was actually broadcast for the current burst.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	if !b.started {
		return
	}
	b.started = false

	if err := b.sender.StopTyping(b.conversationID); err != nil {
		b.logger.Warn("typing stop not sent", "error", err)
	}
}

// Close ends any active burst.
func (b *Broadcaster) Close() {
	b.Stop()
}
