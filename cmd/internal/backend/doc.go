// Package backend is the conventional REST client used by the sync agent.
//
// It owns the request plumbing the rest of the agent treats as given:
// base URL resolution, bearer injection, a bounded per-request timeout,
// JSON (de)serialization, request ids, and classification of failures into
// the error kinds in errors.go. It never retries; retry policy belongs to callers.
package backend
