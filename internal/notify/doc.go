// Package notify provides the transient notification channel surfaced to the
// console UI as toasts. Severity-tagged notices fan out to subscribers and are
// mirrored to the structured log; delivery is best-effort and never blocks.
package notify
