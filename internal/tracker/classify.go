package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/killtracker/internal/types"
)

var (
	ErrMalformedKill    = errors.New("malformed kill line")
	ErrUnattributedKill = errors.New("kill not attributable to tracked player")
)

const rsiCitizenURL = "https://robertsspaceindustries.com/citizens/"

// Kill line token positions after splitting on a single space.
const (
	tokTime   = 0
	tokVictim = 5
	tokZone   = 9
	tokKiller = 12
	tokWeapon = 15
)

var (
	collisionMarkers     = []string{"collision", "crash", "impact"}
	collisionDamageTypes = []string{"damage type 'collision", "damage type 'vehiclecollision", "damage type 'impact"}
	environmentMarkers   = []string{
		"npc", "ai", "turret", "sentinel", "security", "marine", "guard", "pirate", "outlaw",
		"lawman", "vanduul", "xeno", "scavenger", "crew", "warden", "mission", "mercenary", "bounty",
	}
)

// VictimFilter decides whether a kill line names a victim that is never
// reported.
type VictimFilter interface {
	IgnoredVictim(line string) (string, bool)
}

// Classifier turns kill notification lines into kill events.
type Classifier struct {
	ClientVersion string
	Anonymize     func() bool
	Weapons       types.WeaponLookup
	Victims       VictimFilter
}

// NewClassifier returns a classifier resolving weapons and ignored victims
// through lookups.
func NewClassifier(clientVersion string, lookups *Lookups) *Classifier {
	return &Classifier{ClientVersion: clientVersion, Weapons: lookups, Victims: lookups}
}

type killTokens struct {
	time, victim, zone, killer, weapon string
}

func splitKill(line string) (killTokens, error) {
	tokens := strings.Split(strings.TrimRight(line, "\r\n"), " ")
	if len(tokens) <= tokWeapon {
		return killTokens{}, fmt.Errorf("%w: %d tokens", ErrMalformedKill, len(tokens))
	}
	return killTokens{
		time:   strings.Trim(tokens[tokTime], "'<>"),
		victim: strings.Trim(tokens[tokVictim], "'"),
		zone:   strings.Trim(tokens[tokZone], "'"),
		killer: strings.Trim(tokens[tokKiller], "'"),
		weapon: strings.Trim(tokens[tokWeapon], "'"),
	}, nil
}

// excluded reports why a kill line must not be reported, or "".
func (c *Classifier) excluded(line string, mode types.GameMode) string {
	if c.Victims != nil {
		if rule, ok := c.Victims.IgnoredVictim(line); ok {
			return "ignored victim " + rule
		}
	}
	if mode.Arena() {
		if strings.Contains(line, "Crash") {
			return "crash in " + string(mode)
		}
		if strings.Contains(line, "SelfDestruct") {
			return "self-destruct in " + string(mode)
		}
	}
	return ""
}

func (c *Classifier) weapon(raw string) string {
	if c.Weapons == nil {
		return raw
	}
	return c.Weapons.Weapon(raw)
}

// Classify determines the outcome of a kill line for the player in snap.
// Exclusion heuristics run before any identity comparison.
func (c *Classifier) Classify(line string, snap Snapshot) (types.KillEvent, error) {
	ev := types.KillEvent{Line: line}
	if reason := c.excluded(line, snap.Mode); reason != "" {
		slog.Debug("kill excluded", "reason", reason)
		ev.Outcome = types.OutcomeExclusion
		return ev, nil
	}

	tok, err := splitKill(line)
	if err != nil {
		ev.Outcome = types.OutcomeUnparsed
		return ev, err
	}
	handle := snap.Identity.Handle

	switch {
	case tok.victim == handle && tok.killer == handle:
		ev.Outcome = types.OutcomeSuicide
		ev.Payload = types.KillPayload{
			Player:    handle,
			Victim:    handle,
			Killer:    handle,
			Weapon:    tok.weapon,
			Zone:      tok.zone,
			GameMode:  snap.Mode,
			ClientVer: c.ClientVersion,
		}

	case tok.victim == handle:
		weapon := c.weapon(tok.weapon)
		ev.Outcome = types.OutcomeKilled
		ev.Death = CategorizeDeath(tok.killer, weapon, line)
		ev.Payload = types.KillPayload{
			Player:    handle,
			Victim:    handle,
			Killer:    tok.killer,
			Weapon:    weapon,
			Zone:      snap.Ship.Current,
			GameMode:  snap.Mode,
			ClientVer: c.ClientVersion,
		}

	case strings.EqualFold(tok.killer, "unknown"):
		ev.Outcome = types.OutcomeReset

	case tok.killer == handle:
		killersShip := snap.Ship.Current
		if snap.Mode == types.ModeFreeFlight && killersShip == types.ShipFPS {
			killersShip = snap.Ship.Previous
		}
		anonymize := c.Anonymize != nil && c.Anonymize()
		ev.Outcome = types.OutcomeKiller
		ev.Payload = types.KillPayload{
			Player:         handle,
			KillersShip:    killersShip,
			Victim:         tok.victim,
			Time:           tok.time,
			Zone:           tok.zone,
			Weapon:         tok.weapon,
			RSIProfile:     rsiCitizenURL + tok.victim,
			GameMode:       snap.Mode,
			ClientVer:      c.ClientVersion,
			AnonymizeState: &types.AnonymizeState{Enabled: anonymize},
		}

	default:
		ev.Outcome = types.OutcomeUnparsed
		return ev, fmt.Errorf("%w: victim %q killer %q", ErrUnattributedKill, tok.victim, tok.killer)
	}
	return ev, nil
}

// ClassifyDeathReport builds the arena death report for a kill line in which
// the tracked player died.
func (c *Classifier) ClassifyDeathReport(line string, snap Snapshot) (types.KillResult, error) {
	if reason := c.excluded(line, snap.Mode); reason != "" {
		return types.KillResult{Result: types.OutcomeExclusion}, nil
	}
	tok, err := splitKill(line)
	if err != nil {
		return types.KillResult{Result: types.OutcomeUnparsed}, err
	}
	victimShip := snap.Ship.Current
	if victimShip == types.ShipFPS {
		victimShip = snap.Ship.Previous
	}
	return types.KillResult{
		Result: types.OutcomeKilled,
		Data: types.KillPayload{
			Time:       tok.time,
			Player:     tok.killer,
			Victim:     snap.Identity.Handle,
			VictimShip: victimShip,
			Weapon:     c.weapon(tok.weapon),
			Zone:       snap.Ship.Current,
			GameMode:   snap.Mode,
			ClientVer:  c.ClientVersion,
		},
	}, nil
}

// CategorizeDeath splits deaths of the tracked player into collisions,
// environment deaths and player kills.
func CategorizeDeath(killer, weapon, line string) types.DeathContext {
	w := strings.ToLower(weapon)
	for _, m := range collisionMarkers {
		if strings.Contains(w, m) {
			return types.DeathCollision
		}
	}
	l := strings.ToLower(line)
	for _, m := range collisionDamageTypes {
		if strings.Contains(l, m) {
			return types.DeathCollision
		}
	}

	k := strings.ToLower(strings.TrimSpace(killer))
	if k == "" || k == "unknown" || k == "environment" {
		return types.DeathEnvironment
	}
	for _, m := range environmentMarkers {
		if strings.Contains(k, m) {
			return types.DeathEnvironment
		}
	}
	return types.DeathPVP
}
