// Package seal encrypts small secrets (bearer tokens) before they are written to
// the local state file.
//
// Sealing uses NaCl secretbox (XSalsa20-Poly1305) with a 32-byte key supplied as
// hex via LASSMUO_STORAGE_KEY_HEX. When no key is configured the Noop sealer
// stores values verbatim, matching browser localStorage semantics.
package seal
