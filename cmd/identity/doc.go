// Package identity holds learner identity helpers shared by the CLI and the bridge.
//
// Request and envelope ids live in the ids subpackage.
package identity
