// Package progress reconciles a learner's per-stage results with the backend.
//
// The backend exposes only create, update and query-by-filter primitives, so
// Client builds an upsert out of them: read, then update or create, and on a
// create conflict re-read once and update the winner's record. A second miss
// after a conflict is fatal (*ConflictError); nothing else is retried.
//
// Board and Summarize fold the active user's records into UI totals.
package progress
