// Package tracker follows the game client's context (game mode, active ship
// and player identity) from log lines and classifies kill notifications.
package tracker

import (
	"sync"

	"github.com/user/killtracker/internal/types"
)

// State holds the three context cells. Each cell has its own lock; no
// operation reads one cell and writes another under a single lock.
type State struct {
	modeMu sync.RWMutex
	mode   types.GameMode

	shipMu sync.RWMutex
	ship   types.ShipState

	idMu     sync.RWMutex
	identity types.PlayerIdentity
}

// Snapshot is a consistent-per-cell view used to classify one line.
type Snapshot struct {
	Mode     types.GameMode
	Ship     types.ShipState
	Identity types.PlayerIdentity
}

func NewState() *State {
	return &State{
		mode:     types.ModeNothing,
		ship:     types.ShipState{Current: types.ShipUnknown, Previous: types.ShipUnknown, ID: types.Unknown},
		identity: types.UnknownIdentity(),
	}
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{Mode: s.Mode(), Ship: s.Ship(), Identity: s.Identity()}
}

func (s *State) Mode() types.GameMode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}

func (s *State) SetMode(m types.GameMode) {
	s.modeMu.Lock()
	s.mode = m
	s.modeMu.Unlock()
}

func (s *State) Ship() types.ShipState {
	s.shipMu.RLock()
	defer s.shipMu.RUnlock()
	return s.ship
}

// EnterShip records a vehicle as both the current and previous ship.
func (s *State) EnterShip(ship, id string) {
	if id == "" {
		id = types.Unknown
	}
	s.shipMu.Lock()
	s.ship = types.ShipState{Current: ship, Previous: ship, ID: id}
	s.shipMu.Unlock()
}

// ToFPS marks the player as on foot, keeping the previous ship.
func (s *State) ToFPS() {
	s.shipMu.Lock()
	s.ship.Current = types.ShipFPS
	s.ship.ID = types.Unknown
	if s.ship.Previous == "" {
		s.ship.Previous = types.ShipUnknown
	}
	s.shipMu.Unlock()
}

// ToUnknown marks the game state as unknown, used when monitoring stops.
func (s *State) ToUnknown() {
	s.shipMu.Lock()
	s.ship.Current = types.ShipUnknown
	s.ship.ID = types.Unknown
	s.shipMu.Unlock()
}

func (s *State) Identity() types.PlayerIdentity {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.identity
}

// SetHandle sets the handle if none is known yet and reports whether it did.
func (s *State) SetHandle(handle string) bool {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if handle == "" || s.identity.Known() {
		return false
	}
	s.identity.Handle = handle
	return true
}

// SetGEID sets the global entity id if none is known yet.
func (s *State) SetGEID(geid string) bool {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if geid == "" || (s.identity.GEID != "" && s.identity.GEID != types.Unknown) {
		return false
	}
	s.identity.GEID = geid
	return true
}

func (s *State) ResetIdentity() {
	s.idMu.Lock()
	s.identity = types.UnknownIdentity()
	s.idMu.Unlock()
}
