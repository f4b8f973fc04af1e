package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/killtracker/internal/types"
)

var ErrUnknownCommand = errors.New("unknown commander command")

// Commander commands accepted by Command.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandTake       = "take"
	CommandAbort      = "abort"
	CommandStart      = "start"
	CommandComplete   = "complete"
	CommandAllocate   = "allocate"
	CommandRelease    = "release"
)

// Command runs one commander-mode action. players only applies to allocate
// and release; allocating with no players allocates the whole roster.
func (m *Monitor) Command(ctx context.Context, action string, players []string) error {
	var err error
	switch action {
	case CommandConnect:
		err = m.Presence.Connect()
	case CommandDisconnect:
		m.Presence.Disconnect()
	case CommandTake:
		err = m.Presence.TakeCommand(ctx)
	case CommandAbort:
		err = m.Presence.AbortCommand(ctx)
	case CommandStart:
		err = m.Presence.StartBattle(ctx)
	case CommandComplete:
		err = m.Presence.MarkComplete(ctx)
	case CommandAllocate:
		if len(players) == 0 {
			m.Presence.Roster().AllocateAll()
		} else {
			m.Presence.Roster().Allocate(players...)
		}
	case CommandRelease:
		m.Presence.Roster().Release(players...)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, action)
	}
	if err != nil {
		return fmt.Errorf("commander %s: %w", action, err)
	}
	m.record(ctx, EventPresence, action, map[string]any{"players": players})
	return nil
}

func (m *Monitor) Roster() (connected, allocated []types.RosterEntry) {
	r := m.Presence.Roster()
	return r.Connected(), r.Allocated()
}

// BufferedKills returns the kills waiting for delivery, oldest first.
func (m *Monitor) BufferedKills() []types.BufferEntry {
	return m.Engine.Buffer().Snapshot()
}

// FlushBuffer retries every buffered kill now, stopping at the first failure.
func (m *Monitor) FlushBuffer(ctx context.Context) (int, error) {
	return m.Engine.Flush(ctx)
}

// SessionEvents returns the last limit activity log entries of this session.
func (m *Monitor) SessionEvents(ctx context.Context, limit int) ([]*types.Event, error) {
	if m.Events == nil {
		return nil, nil
	}
	return m.Events.Tail(ctx, m.session, limit)
}
