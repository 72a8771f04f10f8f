// Package storage persists the agent's client-side state: the bearer token
// (also under legacy key names), the serialized current user, and the token
// expiry. KV implementations write multi-key changes atomically so the token
// and its expiry are never observed half-updated.
package storage
