// ABOUTME: Severity-tagged transient notification fanout (the console's toast channel).
// ABOUTME: Delivery of a notification event publishes here as a side effect, never blocking.

package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// Severity classifies a notification for presentation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Notification is a single transient user-facing notice.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Subscription is a cancellable handle on the notification stream.
type Subscription struct {
	C    <-chan Notification
	once sync.Once
	stop func()
}

// Cancel detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(s.stop)
}

// Notifier fans notifications out to subscribers and mirrors them to the log.
// Publishing never blocks: slow subscribers drop notifications.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]chan Notification
	logger *slog.Logger
}

// New creates a Notifier. Pass nil logger for the default.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subs:   make(map[string]chan Notification),
		logger: logger.With("component", "notify"),
	}
}

// Publish delivers a notification to all subscribers. Unknown severities are
// coerced to info rather than rejected; the original string is logged.
func (n *Notifier) Publish(sev Severity, message string) {
	if !sev.Valid() {
		n.logger.Warn("unknown notification severity", "severity", string(sev))
		sev = SeverityInfo
	}

	note := Notification{Severity: sev, Message: message, At: time.Now()}

	switch sev {
	case SeverityError:
		n.logger.Error("notification", "message", message)
	case SeverityWarning:
		n.logger.Warn("notification", "message", message)
	default:
		n.logger.Info("notification", "severity", string(sev), "message", message)
	}

	n.mu.RLock()
	targets := make([]chan Notification, 0, len(n.subs))
	for _, ch := range n.subs {
		targets = append(targets, ch)
	}
	n.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- note:
		default:
			n.logger.Debug("dropped notification for slow subscriber")
		}
	}
}

// Subscribe registers a subscriber and returns a cancellable handle.
func (n *Notifier) Subscribe() *Subscription {
	id := uuid.New().String()
	ch := make(chan Notification, subscriberBufferSize)

	n.mu.Lock()
	n.subs[id] = ch
	n.mu.Unlock()

	return &Subscription{
		C: ch,
		stop: func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if got, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(got)
			}
		},
	}
}

// Close cancels every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
