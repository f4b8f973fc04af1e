package tracker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/user/killtracker/internal/types"
)

func killLine(victim, zone, killer, weapon, damage string) string {
	return fmt.Sprintf("<2024-05-01T12:00:00.000Z> [Notice] <Actor Death> CActor::Kill: '%s' [200000001] in zone '%s' killed by '%s' [200000002] using '%s' [Class unknown] with damage type '%s' from direction x: 0, y: 0, z: 0 [Team_ActorTech][Actor]",
		victim, zone, killer, weapon, damage)
}

func snapshot(handle string, mode types.GameMode, current, previous string) Snapshot {
	return Snapshot{
		Mode:     mode,
		Ship:     types.ShipState{Current: current, Previous: previous, ID: types.Unknown},
		Identity: types.PlayerIdentity{Handle: handle, GEID: "123456"},
	}
}

func TestClassify_SelfKill(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Bob", "Hornet_1", "Alice", "WeaponX", "Bullet")

	ev, err := c.Classify(line, snapshot("Alice", types.ModeUniverse, "ANVL_Hornet_F7CM", "ANVL_Hornet_F7CM"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ev.Outcome != types.OutcomeKiller {
		t.Fatalf("expected killer outcome, got %s", ev.Outcome)
	}
	p := ev.Payload
	if p.Victim != "Bob" || p.Zone != "Hornet_1" || p.Weapon != "WeaponX" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.Time != "2024-05-01T12:00:00.000Z" {
		t.Errorf("expected stripped time, got %q", p.Time)
	}
	if p.RSIProfile != "https://robertsspaceindustries.com/citizens/Bob" {
		t.Errorf("unexpected rsi profile %q", p.RSIProfile)
	}
	if p.KillersShip != "ANVL_Hornet_F7CM" {
		t.Errorf("expected killers ship from current, got %q", p.KillersShip)
	}
	if p.AnonymizeState == nil || p.AnonymizeState.Enabled {
		t.Errorf("expected anonymize_state disabled, got %+v", p.AnonymizeState)
	}
}

func TestClassify_SelfDeathPVP(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Bob", "Hornet_1", "Alice", "WeaponX", "Bullet")

	ev, err := c.Classify(line, snapshot("Bob", types.ModeUniverse, types.ShipFPS, "N/A"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ev.Outcome != types.OutcomeKilled {
		t.Fatalf("expected killed outcome, got %s", ev.Outcome)
	}
	if ev.Death != types.DeathPVP {
		t.Errorf("expected pvp death, got %s", ev.Death)
	}
	if ev.Payload.Killer != "Alice" || ev.Payload.Zone != types.ShipFPS {
		t.Errorf("unexpected payload %+v", ev.Payload)
	}
}

func TestClassify_SuicideInAnyMode(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Alice", "OOC_Stanton", "Alice", "Suicide", "Suicide")

	for _, mode := range []types.GameMode{types.ModeUniverse, types.ModeFreeFlight, types.ModeNothing} {
		ev, err := c.Classify(line, snapshot("Alice", mode, types.ShipFPS, "N/A"))
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if ev.Outcome != types.OutcomeSuicide {
			t.Errorf("%s: expected suicide, got %s", mode, ev.Outcome)
		}
	}
}

func TestClassify_UnknownKillerIsReset(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	for _, killer := range []string{"unknown", "UNKNOWN", "Unknown"} {
		ev, err := c.Classify(killLine("Bob", "zone", killer, "w", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
		if err != nil {
			t.Fatal(err)
		}
		if ev.Outcome != types.OutcomeReset {
			t.Errorf("killer %q: expected reset, got %s", killer, ev.Outcome)
		}
	}
}

func TestClassify_UnknownKillerOfPlayerIsEnvironmentDeath(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	ev, err := c.Classify(killLine("Alice", "zone", "unknown", "w", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Outcome != types.OutcomeKilled {
		t.Fatalf("expected killed outcome, got %s", ev.Outcome)
	}
	if ev.Death != types.DeathEnvironment {
		t.Errorf("expected environment death, got %s", ev.Death)
	}
}

func TestClassify_ExclusionBeforeIdentity(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Bob", "zone", "Alice", "Crash", "Crash")

	ev, err := c.Classify(line, snapshot("Alice", types.ModeSquadronBattle, "AEGS_Gladius", "AEGS_Gladius"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Outcome != types.OutcomeExclusion {
		t.Fatalf("expected exclusion in arena mode, got %s", ev.Outcome)
	}

	ev, _ = c.Classify(line, snapshot("Alice", types.ModeUniverse, "AEGS_Gladius", "AEGS_Gladius"))
	if ev.Outcome != types.OutcomeKiller {
		t.Errorf("expected crash marker to be ignored outside arena, got %s", ev.Outcome)
	}

	self := killLine("Alice", "zone", "Alice", "SelfDestruct", "SelfDestruct")
	ev, _ = c.Classify(self, snapshot("Alice", types.ModeFreeFlight, "AEGS_Gladius", "AEGS_Gladius"))
	if ev.Outcome != types.OutcomeExclusion {
		t.Errorf("expected self-destruct exclusion to win over suicide, got %s", ev.Outcome)
	}
}

func TestClassify_IgnoredVictimRule(t *testing.T) {
	lookups := NewLookups()
	lookups.SetIgnoredVictimRules([]types.DataEntry{{Value: "PU_Pilots"}})
	c := NewClassifier("7.0", lookups)

	ev, err := c.Classify(killLine("pu_pilots-human_123", "zone", "Alice", "w", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Outcome != types.OutcomeExclusion {
		t.Errorf("expected ignored victim exclusion, got %s", ev.Outcome)
	}
}

func TestClassify_FreeFlightPreviousShipFallback(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Bob", "zone", "Alice", "w", "Bullet")

	ev, _ := c.Classify(line, snapshot("Alice", types.ModeFreeFlight, types.ShipFPS, "AEGS_Gladius"))
	if ev.Payload.KillersShip != "AEGS_Gladius" {
		t.Errorf("expected previous ship in free flight, got %q", ev.Payload.KillersShip)
	}

	ev, _ = c.Classify(line, snapshot("Alice", types.ModeSquadronBattle, types.ShipFPS, "AEGS_Gladius"))
	if ev.Payload.KillersShip != types.ShipFPS {
		t.Errorf("expected current ship outside free flight, got %q", ev.Payload.KillersShip)
	}
}

func TestClassify_Unattributed(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	ev, err := c.Classify(killLine("Bob", "zone", "Carol", "w", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if !errors.Is(err, ErrUnattributedKill) {
		t.Fatalf("expected ErrUnattributedKill, got %v", err)
	}
	if ev.Outcome != types.OutcomeUnparsed {
		t.Errorf("expected unparsed, got %s", ev.Outcome)
	}
}

func TestClassify_Malformed(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	_, err := c.Classify("<ts> CActor::Kill: 'Alice' short", snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if !errors.Is(err, ErrMalformedKill) {
		t.Fatalf("expected ErrMalformedKill, got %v", err)
	}
}

func TestClassify_AnonymizeFlag(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	c.Anonymize = func() bool { return true }

	ev, _ := c.Classify(killLine("Bob", "zone", "Alice", "w", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if ev.Payload.AnonymizeState == nil || !ev.Payload.AnonymizeState.Enabled {
		t.Errorf("expected anonymize enabled, got %+v", ev.Payload.AnonymizeState)
	}
}

func TestClassify_WeaponLookup(t *testing.T) {
	lookups := NewLookups()
	lookups.SetWeapons([]types.DataEntry{{ID: "klwe_rifle_energy_01", Name: "Arrowhead"}})
	c := NewClassifier("7.0", lookups)

	ev, _ := c.Classify(killLine("Alice", "zone", "Bob", "klwe_rifle_energy_01_1234", "Bullet"), snapshot("Alice", types.ModeUniverse, types.ShipFPS, "N/A"))
	if ev.Payload.Weapon != "Arrowhead" {
		t.Errorf("expected mapped weapon Arrowhead, got %q", ev.Payload.Weapon)
	}
}

func TestClassifyDeathReport(t *testing.T) {
	c := NewClassifier("7.0", NewLookups())
	line := killLine("Alice", "zone", "Bob", "gun", "Bullet")

	res, err := c.ClassifyDeathReport(line, snapshot("Alice", types.ModeFreeFlight, types.ShipFPS, "AEGS_Gladius"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != types.OutcomeKilled {
		t.Fatalf("expected killed, got %s", res.Result)
	}
	if res.Data.Player != "Bob" || res.Data.Victim != "Alice" {
		t.Errorf("expected killer as player and tracked handle as victim, got %+v", res.Data)
	}
	if res.Data.VictimShip != "AEGS_Gladius" || res.Data.Zone != types.ShipFPS {
		t.Errorf("unexpected ships %+v", res.Data)
	}
}

func TestCategorizeDeath(t *testing.T) {
	cases := []struct {
		killer, weapon, line string
		want                 types.DeathContext
	}{
		{"Bob", "VehicleCollision", "", types.DeathCollision},
		{"Bob", "gun", "with damage type 'collision' from", types.DeathCollision},
		{"", "gun", "", types.DeathEnvironment},
		{"Environment", "gun", "", types.DeathEnvironment},
		{"PU_Human_Enemy_NPC_Pirate_123", "gun", "", types.DeathEnvironment},
		{"Bob", "gun", "with damage type 'Bullet'", types.DeathPVP},
	}
	for _, tc := range cases {
		if got := CategorizeDeath(tc.killer, tc.weapon, tc.line); got != tc.want {
			t.Errorf("CategorizeDeath(%q, %q): expected %s, got %s", tc.killer, tc.weapon, tc.want, got)
		}
	}
}
