// ABOUTME: Remote typing state: TTL-evicted set of currently typing peers.
// ABOUTME: Eviction after the silence window unsticks indicators from vanished peers.

package typing

import (
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Tracker aggregates remote typing signals for one conversation. Entries
// expire after the silence window even without an explicit stop signal, so a
// disconnected peer's indicator cannot stick forever. The local user is
// excluded from the set.
type Tracker struct {
	self    string
	peers   *gocache.Cache // user ID -> display name
	mu      sync.Mutex
	changes chan struct{}
}

// NewTracker creates a tracker. self is the local user ID to exclude; window
// is the silence duration after which an entry is evicted (<= 0 uses 3s).
func NewTracker(self string, window time.Duration) *Tracker {
	if window <= 0 {
		window = 3 * time.Second
	}

	// Sweep at a fraction of the window so evictions land close to the
	// deadline instead of up to a full window late.
	sweep := window / 4
	if sweep < 10*time.Millisecond {
		sweep = 10 * time.Millisecond
	}

	t := &Tracker{
		self:    self,
		peers:   gocache.New(window, sweep),
		changes: make(chan struct{}, 1),
	}
	t.peers.OnEvicted(func(string, any) { t.signal() })
	return t
}

// Track records a typing-start (or renewal) from a peer. Signals from the
// local user are ignored.
func (t *Tracker) Track(userID, displayName string) {
	if userID == "" || userID == t.self {
		return
	}
	if displayName == "" {
		displayName = userID
	}
	t.peers.SetDefault(userID, displayName)
	t.signal()
}

// Untrack records an explicit typing-stop from a peer.
func (t *Tracker) Untrack(userID string) {
	t.peers.Delete(userID)
	// go-cache fires OnEvicted for explicit deletes, which signals for us.
}

// Active returns the display names of currently typing peers, sorted.
func (t *Tracker) Active() []string {
	items := t.peers.Items()
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := item.Object.(string); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DisplayText derives the indicator line from the active set. Empty when
// nobody is typing.
func (t *Tracker) DisplayText() string {
	names := t.Active()
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1] + " are typing..."
	}
}

// Changes signals whenever the active set changes, including TTL evictions.
// The channel is coalescing: a pending signal absorbs new ones.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

func (t *Tracker) signal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// Flush drops all tracked peers.
func (t *Tracker) Flush() {
	t.peers.Flush()
	t.signal()
}
