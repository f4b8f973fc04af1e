package tracker

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/user/killtracker/internal/types"
)

// Log markers written by the game client.
const (
	markerVehicleControl = "<Vehicle Control Flow>"
	markerSetDriver      = "CVehicleMovementBase::SetDriver:"
	markerRequestToken   = "requesting control token for"
	markerVehicleInit    = "CVehicle::Initialize::<lambda_1>::operator ():"
	markerGrantedToken   = "granted control token for"
	markerClearDriver    = "CVehicleMovementBase::ClearDriver:"
	markerReleaseToken   = "releasing control token for"
	markerLoseToken      = "losing control token for"
	markerLocalClient    = "Local client node"
	markerContextDone    = "<Context Establisher Done>"
	markerRespawn        = "CPlayerShipRespawnManager::OnVehicleSpawned"
	markerDestruction    = "<Vehicle Destruction>"
	markerControlDead    = "<local client>: Entering control state dead"
	markerEnterZone      = "OnEntityEnterZone"
	markerEntity         = "-> Entity "
	markerJumpDrive      = "<Jump Drive State Changed>"
	markerJumpZone       = "adam: "
	markerKill           = "CActor::Kill"
	markerLogin          = "<Legacy login response> [CIG-net] User Login Success"
	markerLoginHandle    = "Handle["
	markerCharacter      = "AccountLoginCharacterStatus_Character"
)

// ManufacturerCodes prefix every ship entity name.
var ManufacturerCodes = []string{
	"DRAK", "ORIG", "AEGS", "ANVL", "CRUS", "BANU", "MISC",
	"KRIG", "XNAA", "ARGO", "VNCL", "ESPR", "RSI", "CNOU",
	"GRIN", "TMBL", "GAMA",
}

var (
	shipPattern     = regexp.MustCompile(`for '([\w]+(?:_[\w]+)+)_(\d+)'`)
	gameRulesPrefix = "gamerules=\""
)

type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeMode
	ChangeVehicleEnter
	ChangeVehicleExit
	ChangeRespawn
	ChangeDestroyed
	ChangeZone
	ChangeIdentity
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMode:
		return "mode"
	case ChangeVehicleEnter:
		return "vehicle_enter"
	case ChangeVehicleExit:
		return "vehicle_exit"
	case ChangeRespawn:
		return "respawn"
	case ChangeDestroyed:
		return "destroyed"
	case ChangeZone:
		return "zone"
	case ChangeIdentity:
		return "identity"
	}
	return "none"
}

// Change describes the context update caused by one line.
type Change struct {
	Kind ChangeKind
	Mode types.GameMode
	Ship types.ShipState
	// ZoneShip is set when a zone transition landed on a recognized ship;
	// those transitions are announced to the presence roster.
	ZoneShip bool
}

// Observe applies the context markers found in line. live is false while
// the backlog is replayed; vehicle control lines are only honoured live.
func (s *State) Observe(line string, live bool) Change {
	if live && strings.Contains(line, markerVehicleControl) {
		if c, ok := s.observeVehicleControl(line); ok {
			return c
		}
	}

	snap := s.Snapshot()
	switch {
	case strings.Contains(line, markerContextDone):
		mode, ok := parseGameMode(line)
		if !ok {
			slog.Debug("context line without game rules", "line", line)
			return Change{}
		}
		s.SetMode(mode)
		if mode == types.ModeUniverse {
			s.ToFPS()
		}
		return Change{Kind: ChangeMode, Mode: mode, Ship: s.Ship()}

	case strings.Contains(line, markerRespawn) && snap.Mode != types.ModeUniverse &&
		knownValue(snap.Identity.GEID) && strings.Contains(line, snap.Identity.GEID):
		ship, ok := respawnShip(line)
		if !ok {
			return Change{}
		}
		s.EnterShip(ship, snap.Ship.ID)
		slog.Debug("arena ship spawned", "ship", ship)
		return Change{Kind: ChangeRespawn, Ship: s.Ship()}

	case (strings.Contains(line, markerDestruction) || strings.Contains(line, markerControlDead)) &&
		referencesInstance(line, snap.Ship.ID):
		slog.Debug("ship destroyed", "ship", snap.Ship.Current, "id", snap.Ship.ID)
		s.ToFPS()
		return Change{Kind: ChangeDestroyed, Ship: s.Ship()}

	case knownValue(snap.Identity.Handle) && strings.Contains(line, snap.Identity.Handle) &&
		strings.Contains(line, markerEnterZone):
		return s.observeZone(line, markerEntity, true)

	case strings.Contains(line, markerJumpDrive):
		return s.observeZone(line, markerJumpZone, false)

	case strings.Contains(line, markerLogin):
		if handle, ok := parseHandle(line); ok && s.SetHandle(handle) {
			slog.Info("player handle discovered", "handle", handle)
			return Change{Kind: ChangeIdentity}
		}

	case strings.Contains(line, markerCharacter):
		if geid, ok := parseGEID(line); ok && s.SetGEID(geid) {
			slog.Debug("player geid discovered", "geid", geid)
			return Change{Kind: ChangeIdentity}
		}
	}
	return Change{}
}

func (s *State) observeVehicleControl(line string) (Change, bool) {
	enter := (strings.Contains(line, markerSetDriver) && strings.Contains(line, markerRequestToken)) ||
		(strings.Contains(line, markerVehicleInit) && strings.Contains(line, markerGrantedToken))
	if enter {
		if !s.tiedToPlayer(line) {
			return Change{}, false
		}
		ship, id, ok := ParseShip(line)
		if !ok {
			return Change{}, true
		}
		s.EnterShip(ship, id)
		slog.Info("entered ship", "ship", ship, "id", id)
		return Change{Kind: ChangeVehicleEnter, Ship: s.Ship()}, true
	}

	exit := (strings.Contains(line, markerClearDriver) && strings.Contains(line, markerReleaseToken)) ||
		strings.Contains(line, markerLoseToken)
	if exit {
		s.ToFPS()
		slog.Info("exited ship, on foot")
		return Change{Kind: ChangeVehicleExit, Ship: s.Ship()}, true
	}
	return Change{}, false
}

func (s *State) tiedToPlayer(line string) bool {
	if strings.Contains(line, markerLocalClient) {
		return true
	}
	id := s.Identity()
	return (knownValue(id.Handle) && strings.Contains(line, id.Handle)) ||
		(knownValue(id.GEID) && strings.Contains(line, id.GEID))
}

func (s *State) observeZone(line, marker string, quoted bool) Change {
	i := strings.Index(line, marker)
	if i < 0 {
		return Change{}
	}
	token := line[i+len(marker):]
	if j := strings.IndexByte(token, ' '); j >= 0 {
		token = token[:j]
	}
	if quoted {
		token = unwrap(token)
	}
	ship, id, ok := ParseZoneShip(token)
	if !ok {
		s.ToFPS()
		return Change{Kind: ChangeZone, Ship: s.Ship()}
	}
	s.EnterShip(ship, id)
	slog.Debug("active zone changed", "ship", ship, "id", id)
	return Change{Kind: ChangeZone, Ship: s.Ship(), ZoneShip: true}
}

// ParseShip extracts the ship type and instance id from a control token line.
func ParseShip(line string) (ship, id string, ok bool) {
	m := shipPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseZoneShip splits a zone token such as ANVL_Hornet_F7CM_1234 into its
// ship part and instance id when it starts with a manufacturer code.
func ParseZoneShip(token string) (ship, id string, ok bool) {
	for _, code := range ManufacturerCodes {
		if !strings.HasPrefix(token, code) {
			continue
		}
		i := strings.LastIndexByte(token, '_')
		if i < 0 {
			return token, types.Unknown, true
		}
		return token[:i], token[i+1:], true
	}
	return "", "", false
}

func parseGameMode(line string) (types.GameMode, bool) {
	if i := strings.Index(line, gameRulesPrefix); i >= 0 {
		rest := line[i+len(gameRulesPrefix):]
		if j := strings.IndexByte(rest, '"'); j >= 0 {
			return types.GameMode(rest[:j]), true
		}
	}
	tokens := strings.Split(line, " ")
	if len(tokens) <= 8 {
		return "", false
	}
	_, v, ok := strings.Cut(tokens[8], "=")
	if !ok {
		return "", false
	}
	v = strings.Trim(v, `"`)
	if v == "" {
		return "", false
	}
	return types.GameMode(v), true
}

func respawnShip(line string) (string, bool) {
	tokens := strings.Split(line, " ")
	if len(tokens) <= 5 || len(tokens[5]) < 2 {
		return "", false
	}
	return unwrap(tokens[5]), true
}

func parseHandle(line string) (string, bool) {
	i := strings.Index(line, markerLoginHandle)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(markerLoginHandle):]
	j := strings.IndexByte(rest, ']')
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}

func parseGEID(line string) (string, bool) {
	tokens := strings.Split(line, " ")
	if len(tokens) <= 11 || tokens[11] == "" {
		return "", false
	}
	return tokens[11], true
}

// referencesInstance reports whether line mentions id as a whole number.
func referencesInstance(line, id string) bool {
	if !knownValue(id) {
		return false
	}
	for start := 0; ; {
		i := strings.Index(line[start:], id)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(id)
		if (i == 0 || !isDigit(line[i-1])) && (end == len(line) || !isDigit(line[end])) {
			return true
		}
		start = i + 1
	}
}

// IsKillLine reports whether line is a kill notification mentioning handle.
func IsKillLine(line, handle string) bool {
	return knownValue(handle) && strings.Contains(line, markerKill) && strings.Contains(line, handle)
}

func unwrap(token string) string {
	if len(token) >= 2 {
		return token[1 : len(token)-1]
	}
	return token
}

func knownValue(v string) bool {
	return v != "" && v != types.Unknown
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
