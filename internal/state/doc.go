// Package state provides filesystem-backed storage: the per-identity
// encrypted profile holding the credential, volume settings and the
// undelivered kill buffer, and the per-session activity log.
package state

import "github.com/user/killtracker/internal/types"

// Compile-time interface compliance checks.
var _ types.EventStore = (*EventLog)(nil)
