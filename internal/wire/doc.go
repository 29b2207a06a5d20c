// Package wire defines the realtime socket protocol: the inbound envelope and
// its typed event variants, the outbound control frames, and the Message record
// shared by every layer above the transport.
//
// Inbound frames arrive as an Envelope whose Data payload is decoded into
// exactly one Event variant by Decode. Unknown kinds return ErrUnknownEvent so
// protocol drift surfaces in logs instead of being silently dropped.
package wire
