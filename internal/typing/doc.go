// Package typing implements both halves of the typing indicator: the local
// Broadcaster (coalesced start, idle-window auto-stop) and the remote Tracker
// (TTL-evicted peer set with a derived display line).
package typing
