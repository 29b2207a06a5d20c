// ABOUTME: Durable FIFO queue of unconfirmed mutations plus the local snapshot cache.
// ABOUTME: Drain replays strictly in order, one at a time, with a bounded per-item retry.

package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/helio-ai/console/internal/config"
	"github.com/helio-ai/console/internal/notify"
)

// Well-known local keys. Both blobs are opaque JSON.
const (
	queueKey    = "offline:action_queue"
	snapshotKey = "offline:snapshot"
)

// Manager errors
var (
	// ErrDrainInProgress means a drain was requested while one is running.
	// The second trigger is a no-op by contract.
	ErrDrainInProgress = errors.New("drain already in progress")
	// ErrOffline means a drain was requested with no connectivity.
	ErrOffline = errors.New("offline")
)

// ActionKind classifies a queued mutation.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// QueuedAction is one not-yet-confirmed mutation awaiting replay. RetryCount
// is its only mutable field; an action reaching the retry cap never reappears
// in the persisted queue.
type QueuedAction struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"kind"`
	Resource   string          `json:"resource"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

// Snapshot is the last known good local copy of server-owned domain data.
// Each section under Data is overwritten wholesale on save; LastSync is
// monotonically increasing. Fingerprint ties the snapshot to the credential
// that produced it.
type Snapshot struct {
	Data        map[string]json.RawMessage `json:"data"`
	LastSync    time.Time                  `json:"last_sync"`
	Fingerprint string                     `json:"fingerprint,omitempty"`
}

// Replayer re-issues a queued mutation against the backend. The layer treats
// any returned error identically; it has no knowledge of why an item failed.
type Replayer interface {
	Replay(ctx context.Context, action QueuedAction) error
}

// DrainReport aggregates the outcome of one drain pass.
type DrainReport struct {
	// Replayed counts actions confirmed and removed this pass.
	Replayed int
	// Remaining counts actions that failed this pass but stay queued.
	Remaining int
	// Dropped holds actions removed after exhausting the retry cap.
	Dropped []QueuedAction
}

// Manager owns the persisted action queue and snapshot. It is the only writer
// to its Blobstore keys; cross-process writers are not coordinated.
type Manager struct {
	store       Blobstore
	replayer    Replayer
	logger      *slog.Logger
	notifier    *notify.Notifier
	retryCap    int
	fingerprint string

	mu       sync.Mutex // serializes queue/snapshot read-modify-write cycles
	draining atomic.Bool
	online   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithNotifier routes drain outcomes and terminal failures to a Notifier.
func WithNotifier(n *notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithFingerprint guards the snapshot with a credential fingerprint: a
// persisted snapshot written under a different fingerprint reads back empty.
func WithFingerprint(fp string) Option {
	return func(m *Manager) { m.fingerprint = fp }
}

// NewManager creates an offline durability manager over the given store.
func NewManager(store Blobstore, replayer Replayer, cfg config.OfflineConfig, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		replayer: replayer,
		logger:   slog.Default().With("component", "offline"),
		retryCap: cfg.RetryCap,
	}
	if m.retryCap < 1 {
		m.retryCap = 3
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnline records the connectivity signal. The offline→online transition
// triggers an automatic background drain.
func (m *Manager) SetOnline(online bool) {
	wasOnline := m.online.Swap(online)
	if online && !wasOnline {
		go func() {
			if _, err := m.Drain(context.Background()); err != nil &&
				!errors.Is(err, ErrDrainInProgress) && !errors.Is(err, ErrOffline) {
				m.logger.Warn("automatic drain failed", "error", err)
			}
		}()
	}
}

// Online reports the last connectivity signal received.
func (m *Manager) Online() bool {
	return m.online.Load()
}

// Enqueue appends a new action to the persisted queue and returns it. While
// offline this is the only durable record of the mutation. Storage faults are
// logged and degrade to best-effort rather than propagating.
func (m *Manager) Enqueue(ctx context.Context, kind ActionKind, resource string, payload any) (QueuedAction, error) {
	if !kind.Valid() {
		return QueuedAction{}, fmt.Errorf("invalid action kind %q", kind)
	}
	if resource == "" {
		return QueuedAction{}, fmt.Errorf("resource is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("encoding action payload: %w", err)
	}

	action := QueuedAction{
		ID:        uuid.New().String(),
		Kind:      kind,
		Resource:  resource,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.loadQueueLocked(ctx)
	queue = append(queue, action)
	m.persistQueueLocked(ctx, queue)

	m.logger.Debug("action queued",
		"action_id", action.ID,
		"kind", string(kind),
		"resource", resource,
		"queued", len(queue),
	)
	return action, nil
}

// Queue returns the currently persisted actions in insertion order.
func (m *Manager) Queue(ctx context.Context) []QueuedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadQueueLocked(ctx)
}

// Drain replays every queued action in insertion order, one at a time. A drain
// requested while one is running returns ErrDrainInProgress and touches
// nothing; a drain requested while offline returns ErrOffline. Per-item
// failures increment the retry counter; an action failing for the retry-capth
// time is dropped and reported as a terminal failure.
func (m *Manager) Drain(ctx context.Context) (DrainReport, error) {
	if !m.draining.CompareAndSwap(false, true) {
		return DrainReport{}, ErrDrainInProgress
	}
	defer m.draining.Store(false)

	if !m.online.Load() {
		return DrainReport{}, ErrOffline
	}

	m.mu.Lock()
	pending := m.loadQueueLocked(ctx)
	m.mu.Unlock()

	if len(pending) == 0 {
		return DrainReport{}, nil
	}

	m.logger.Info("drain started", "queued", len(pending))

	var report DrainReport
	resolved := make(map[string]bool, len(pending)) // action ID -> remove from queue
	retried := make(map[string]int, len(pending))   // action ID -> new retry count

	for _, action := range pending {
		if err := ctx.Err(); err != nil {
			break
		}

		// One in-flight replay at a time: out-of-order replay of
		// create/update/delete against the same resource could corrupt
		// server state.
		if err := m.replayer.Replay(ctx, action); err != nil {
			action.RetryCount++
			if action.RetryCount >= m.retryCap {
				resolved[action.ID] = true
				report.Dropped = append(report.Dropped, action)
				m.logger.Error("action dropped after retry cap",
					"action_id", action.ID,
					"kind", string(action.Kind),
					"resource", action.Resource,
					"retries", action.RetryCount,
					"error", err,
				)
				if m.notifier != nil {
					m.notifier.Publish(notify.SeverityError,
						fmt.Sprintf("Could not sync %s of %s after %d attempts", action.Kind, action.Resource, action.RetryCount))
				}
			} else {
				retried[action.ID] = action.RetryCount
				report.Remaining++
				m.logger.Warn("action replay failed, keeping for next drain",
					"action_id", action.ID,
					"retries", action.RetryCount,
					"error", err,
				)
			}
			continue
		}

		resolved[action.ID] = true
		report.Replayed++
	}

	// Reload under lock so actions enqueued mid-drain are preserved.
	m.mu.Lock()
	current := m.loadQueueLocked(ctx)
	next := current[:0]
	for _, action := range current {
		if resolved[action.ID] {
			continue
		}
		if count, ok := retried[action.ID]; ok {
			action.RetryCount = count
		}
		next = append(next, action)
	}
	m.persistQueueLocked(ctx, next)
	m.mu.Unlock()

	m.logger.Info("drain finished",
		"replayed", report.Replayed,
		"remaining", report.Remaining,
		"dropped", len(report.Dropped),
	)

	if m.notifier != nil {
		if report.Replayed > 0 {
			m.notifier.Publish(notify.SeveritySuccess,
				fmt.Sprintf("Synced %d offline change(s)", report.Replayed))
		}
		if report.Remaining > 0 {
			m.notifier.Publish(notify.SeverityWarning,
				fmt.Sprintf("%d change(s) still pending sync", report.Remaining))
		}
	}

	return report, nil
}

// SaveSnapshot merges the given sections into the cached snapshot and persists
// it. Each provided section replaces its previous value wholesale; sections
// not provided are retained. LastSync is strictly increasing across saves.
func (m *Manager) SaveSnapshot(ctx context.Context, partial map[string]json.RawMessage) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.loadSnapshotLocked(ctx)
	if snap.Data == nil {
		snap.Data = make(map[string]json.RawMessage, len(partial))
	}
	for section, blob := range partial {
		snap.Data[section] = blob
	}

	now := time.Now().UTC()
	if !now.After(snap.LastSync) {
		now = snap.LastSync.Add(time.Nanosecond)
	}
	snap.LastSync = now
	snap.Fingerprint = m.fingerprint

	blob, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := m.store.Set(ctx, snapshotKey, blob); err != nil {
		m.logger.Error("persisting snapshot failed", "error", err)
	}
	return snap, nil
}

// LoadSnapshot returns the cached snapshot, or an empty one if nothing usable
// is persisted. A snapshot written under a different credential fingerprint
// reads back empty.
func (m *Manager) LoadSnapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSnapshotLocked(ctx)
}

// Clear discards both the queue and the snapshot. Manual recovery hatch.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, queueKey); err != nil {
		return fmt.Errorf("clearing action queue: %w", err)
	}
	if err := m.store.Delete(ctx, snapshotKey); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	m.logger.Info("offline state cleared")
	return nil
}

// loadQueueLocked reads the persisted queue, degrading to empty on a missing
// key, storage fault, or corrupted blob. Must be called with mu held.
func (m *Manager) loadQueueLocked(ctx context.Context) []QueuedAction {
	blob, err := m.store.Get(ctx, queueKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Error("reading action queue failed", "error", err)
		return nil
	}

	var queue []QueuedAction
	if err := json.Unmarshal(blob, &queue); err != nil {
		m.logger.Error("action queue corrupted, starting empty", "error", err)
		return nil
	}
	return queue
}

// persistQueueLocked writes the queue, logging storage faults without
// propagating them. Must be called with mu held.
func (m *Manager) persistQueueLocked(ctx context.Context, queue []QueuedAction) {
	blob, err := json.Marshal(queue)
	if err != nil {
		m.logger.Error("encoding action queue failed", "error", err)
		return
	}
	if err := m.store.Set(ctx, queueKey, blob); err != nil {
		m.logger.Error("persisting action queue failed", "error", err)
	}
}

// loadSnapshotLocked reads the persisted snapshot, degrading to empty on any
// fault or on a fingerprint mismatch. Must be called with mu held.
func (m *Manager) loadSnapshotLocked(ctx context.Context) Snapshot {
	blob, err := m.store.Get(ctx, snapshotKey)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}
	}
	if err != nil {
		m.logger.Error("reading snapshot failed", "error", err)
		return Snapshot{}
	}

	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		m.logger.Error("snapshot corrupted, starting empty", "error", err)
		return Snapshot{}
	}

	if m.fingerprint != "" && snap.Fingerprint != "" && snap.Fingerprint != m.fingerprint {
		m.logger.Warn("snapshot belongs to a different identity, ignoring")
		return Snapshot{}
	}
	return snap
}
