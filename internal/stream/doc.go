// Package stream maintains the ordered message list for one conversation.
//
// A Stream is fed two ways: synchronously by Send, which appends an
// optimistic local echo before transmission, and asynchronously by realtime
// events after Attach. The server's broadcast copy of a locally sent message
// is recognized by ID and dropped, so the user never sees their own message
// twice. Agent typing events drive a composing flag that clears on the next
// agent message or an explicit stop.
package stream
