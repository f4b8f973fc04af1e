package types

import (
	"time"

	json "github.com/goccy/go-json"
)

// Sentinels shared by the tracker, delivery and presence layers.
const (
	Unknown     = "N/A"
	ShipFPS     = "FPS"
	ShipUnknown = Unknown
)

type GameMode string

const (
	ModeNothing        GameMode = "Nothing"
	ModeUniverse       GameMode = "SC_Default"
	ModeFreeFlight     GameMode = "EA_FreeFlight"
	ModeSquadronBattle GameMode = "EA_SquadronBattle"
)

// Arena reports whether the mode is one of the arena commander modes in which
// crashes and self-destructs are not counted.
func (m GameMode) Arena() bool {
	return m == ModeFreeFlight || m == ModeSquadronBattle
}

type PlayerIdentity struct {
	Handle string `json:"handle"`
	GEID   string `json:"geid"`
}

func UnknownIdentity() PlayerIdentity {
	return PlayerIdentity{Handle: Unknown, GEID: Unknown}
}

func (p PlayerIdentity) Known() bool {
	return p.Handle != "" && p.Handle != Unknown
}

type ShipState struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
	ID       string `json:"id"`
}

// Outcome values double as the "result" field of persisted kill results.
type Outcome string

const (
	OutcomeExclusion Outcome = "exclusion"
	OutcomeSuicide   Outcome = "suicide"
	OutcomeKilled    Outcome = "killed"
	OutcomeKiller    Outcome = "killer"
	OutcomeReset     Outcome = "reset"
	OutcomeUnparsed  Outcome = "unparsed"
)

type DeathContext string

const (
	DeathPVP         DeathContext = "pvp"
	DeathEnvironment DeathContext = "environment"
	DeathCollision   DeathContext = "collision"
)

type AnonymizeState struct {
	Enabled bool `json:"enabled"`
}

// KillPayload is the body posted to the collector's kill endpoints.
type KillPayload struct {
	Player         string          `json:"player"`
	Victim         string          `json:"victim"`
	Killer         string          `json:"killer,omitempty"`
	Time           string          `json:"time,omitempty"`
	Zone           string          `json:"zone"`
	Weapon         string          `json:"weapon"`
	RSIProfile     string          `json:"rsi_profile,omitempty"`
	GameMode       GameMode        `json:"game_mode"`
	ClientVer      string          `json:"client_ver"`
	KillersShip    string          `json:"killers_ship,omitempty"`
	VictimShip     string          `json:"victim_ship,omitempty"`
	AnonymizeState *AnonymizeState `json:"anonymize_state,omitempty"`
}

// KillResult is the envelope persisted in the durable buffer.
type KillResult struct {
	Result Outcome     `json:"result"`
	Data   KillPayload `json:"data"`
}

type KillEvent struct {
	Outcome Outcome      `json:"outcome"`
	Death   DeathContext `json:"death,omitempty"`
	Payload KillPayload  `json:"payload"`
	Line    string       `json:"line"`
}

func (e KillEvent) Result() KillResult {
	return KillResult{Result: e.Outcome, Data: e.Payload}
}

type BufferEntry struct {
	KillResult KillResult `json:"kill_result"`
	Endpoint   string     `json:"endpoint"`
}

type RosterEntry struct {
	Player string `json:"player"`
	Zone   string `json:"zone"`
	Status string `json:"status"`
}

type BountyTarget struct {
	Handle      string `json:"handle" yaml:"handle"`
	Requirement string `json:"requirement,omitempty" yaml:"requirement"`
}

type BountyEventType string

const (
	BountyLock   BountyEventType = "lock"
	BountyScan   BountyEventType = "scan"
	BountyDetect BountyEventType = "detect"
	BountyKill   BountyEventType = "kill"
)

// Event is one entry of the per-session activity log.
type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// DataEntry is one row of a collector data map (weapons carry id and name,
// ignored-victim rules carry value).
type DataEntry struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// HeartbeatPayload is posted to the collector by the presence loop and by
// one-shot presence events.
type HeartbeatPayload struct {
	IsHeartbeat  bool          `json:"is_heartbeat"`
	Player       string        `json:"player"`
	Zone         string        `json:"zone"`
	ClientVer    string        `json:"client_ver"`
	Status       string        `json:"status"`
	Mode         string        `json:"mode,omitempty"`
	IsCommander  bool          `json:"is_commander"`
	MarkComplete *bool         `json:"mark_complete,omitempty"`
	StartBattle  *bool         `json:"start_battle,omitempty"`
	AbortCommand *bool         `json:"abort_command,omitempty"`
	AllocUsers   []RosterEntry `json:"alloc_users,omitempty"`
}

type HeartbeatResponse struct {
	Commanders []RosterEntry `json:"commanders"`
	// HasRoster is false when the response carried no commanders field.
	HasRoster bool `json:"-"`
}
