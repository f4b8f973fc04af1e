package types

import (
	"context"
)

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

// WeaponLookup maps raw weapon identifiers to display names.
type WeaponLookup interface {
	Weapon(raw string) string
}

// SoundCue plays a named cue; audio playback itself lives outside this module.
type SoundCue interface {
	Play(name string)
}
