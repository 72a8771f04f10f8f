// Package token provides log-safe handling of bearer tokens.
//
// Bearer tokens must never reach logs or metrics labels. Callers that need to
// correlate log lines with a token use Fingerprint, a short SHA-256 prefix.
package token
