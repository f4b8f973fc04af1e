package monitor

import (
	"fmt"
	"strings"

	"github.com/user/killtracker/internal/gateway"
	"github.com/user/killtracker/internal/tracker"
	"github.com/user/killtracker/internal/types"
)

type CommanderStatus struct {
	Connected   bool `json:"connected"`
	IsCommander bool `json:"is_commander"`
	Roster      int  `json:"roster"`
	Allocated   int  `json:"allocated"`
}

// Status is a point-in-time view of the session.
type Status struct {
	Session   types.SessionID       `json:"session"`
	Active    bool                  `json:"active"`
	KeyStatus string                `json:"key_status"`
	Healthy   bool                  `json:"healthy"`
	Identity  types.PlayerIdentity  `json:"identity"`
	Mode      types.GameMode        `json:"mode"`
	Ship      types.ShipState       `json:"ship"`
	Stats     tracker.StatsSnapshot `json:"stats"`
	Buffered  int                   `json:"buffered"`
	Dispatch  gateway.Stats         `json:"dispatch"`
	Commander CommanderStatus       `json:"commander"`
}

func (m *Monitor) Status() Status {
	snap := m.State.Snapshot()
	return Status{
		Session:   m.session,
		Active:    m.active.Load(),
		KeyStatus: m.Keys.Status(),
		Healthy:   m.Engine.Healthy(),
		Identity:  snap.Identity,
		Mode:      snap.Mode,
		Ship:      snap.Ship,
		Stats:     m.Stats.Snapshot(),
		Buffered:  m.Engine.Buffer().Len(),
		Dispatch:  m.Dispatcher.Stats(),
		Commander: CommanderStatus{
			Connected:   m.Presence.Active(),
			IsCommander: m.Presence.IsCommander(),
			Roster:      len(m.Presence.Roster().Connected()),
			Allocated:   len(m.Presence.Roster().Allocated()),
		},
	}
}

func (m *Monitor) StatusText() string {
	s := m.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "Player: %s\n", s.Identity.Handle)
	fmt.Fprintf(&b, "%s\n", s.KeyStatus)
	fmt.Fprintf(&b, "Mode: %s, ship: %s\n", s.Mode, s.Ship.Current)
	fmt.Fprintf(&b, "Monitoring: %t, collector healthy: %t", s.Active, s.Healthy)
	return b.String()
}

func (m *Monitor) StatsText() string {
	s := m.Stats.Snapshot()
	return fmt.Sprintf("Kills: %d, deaths: %d, K/D: %s, streak: %d (max %d)", s.Kills, s.Deaths, s.KD, s.Streak, s.MaxStreak)
}

func (m *Monitor) BufferText() string {
	return fmt.Sprintf("%d kill(s) waiting for delivery", m.Engine.Buffer().Len())
}
