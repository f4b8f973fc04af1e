package types

import (
	"github.com/google/uuid"
)

// SessionID identifies one monitoring session. Session ids are UUIDv7 so
// the per-session directories sort by start time.
type SessionID string

// EventID identifies one activity log entry or one queued delivery job.
type EventID string

// NotificationID identifies one bounty notification.
type NotificationID string

func NewSessionID() SessionID {
	id, err := uuid.NewV7()
	if err != nil {
		return SessionID(uuid.NewString())
	}
	return SessionID(id.String())
}

func NewEventID() EventID { return EventID(uuid.NewString()) }

func NewNotificationID() NotificationID { return NotificationID(uuid.NewString()) }
