// Package realtime owns the single persistent socket session to the backend.
//
// # Lifecycle
//
// Disconnected → Connecting → Connected, with Connected → Reconnecting on
// transient loss. Reconnection is owned by this package and bounded by the
// configured cap (default 5); the application only observes transitions via
// SubscribeStates. A server-initiated close is retried immediately; an
// explicit authentication rejection tears the session down without retry.
//
// # Operations
//
// Join/leave/send/typing are guarded fire-and-forget: no-ops while not
// connected, never queued here. Durable mutations belong to the offline layer.
//
// # Events
//
// The read loop decodes each inbound frame into a wire.Event and fans it out
// to per-kind subscribers. Notification events additionally publish to the
// Notifier as a side effect of delivery.
package realtime
