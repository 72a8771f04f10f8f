// Package session tracks the client-held bearer token and its expiry.
//
// Clock answers "is the session valid" and "how long is left" purely from the
// locally stored expiry; it never asks the backend. Refresh slides the expiry
// forward by the configured session length.
//
// Coordinator drives the lifecycle LoggedOut -> Active -> Warning -> (Expired)
// -> LoggedOut on periodic ticks plus visibility and focus checks, owns the
// one-shot warning latch, performs forced logout, and closes the write gate.
// Expired is only ever emitted as an event; State never reports it.
package session
