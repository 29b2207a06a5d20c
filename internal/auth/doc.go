// Package auth holds the client-side credential: the bearer token and tenant
// identifier presented during the socket handshake, claim inspection for the
// token the client already holds, and the credential fingerprint used to guard
// locally persisted state.
package auth
