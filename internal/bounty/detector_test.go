package bounty

import (
	"strings"
	"testing"

	"github.com/user/killtracker/internal/types"
)

type recordingSound struct {
	played []string
}

func (r *recordingSound) Play(name string) { r.played = append(r.played, name) }

func testRegistry() *Registry {
	return NewRegistry([]types.BountyTarget{
		{Handle: "Vex_Marauder", Requirement: "Ship kill only"},
		{Handle: "QuietOne"},
	})
}

func TestInspect_LockDedup(t *testing.T) {
	var got []Notification
	d := NewDetector(testRegistry(), WithHandler(func(n Notification) { got = append(got, n) }))

	line := `<ts> [Notice] <Targeting> Locked target 'vex_marauder[BLIGHT]' at range 2000m`
	d.Inspect(line)
	d.Inspect(line + "  ")

	if len(got) != 1 {
		t.Fatalf("expected one notification for repeated lock, got %d", len(got))
	}
	if got[0].Type != types.BountyLock || got[0].Target != "Vex_Marauder" {
		t.Errorf("unexpected notification %+v", got[0])
	}
	if got[0].Message != "Continental bounty lock on Vex_Marauder detected. Requirement: Ship kill only" {
		t.Errorf("unexpected message %q", got[0].Message)
	}
}

func TestInspect_KillNeverSuppressed(t *testing.T) {
	sound := &recordingSound{}
	var got []Notification
	d := NewDetector(testRegistry(), WithSound(sound), WithHandler(func(n Notification) { got = append(got, n) }))

	line := `<ts> Locking 'QuietOne'`
	d.Inspect(line)
	d.HandleKill("Alice", "QuietOne", "gun", line)
	d.HandleKill("Alice", "QuietOne", "gun", line)

	if len(got) != 3 {
		t.Fatalf("expected lock plus two kills, got %d", len(got))
	}
	if got[1].Type != types.BountyKill || got[1].Actor != "Alice" {
		t.Errorf("unexpected kill notification %+v", got[1])
	}
	if got[1].Message != "Continental bounty kill on QuietOne by Alice." {
		t.Errorf("unexpected kill message %q", got[1].Message)
	}
	if len(sound.played) != 3 {
		t.Errorf("expected a sound cue per notification, got %d", len(sound.played))
	}
}

func TestInspect_RegistryMissDiscarded(t *testing.T) {
	d := NewDetector(testRegistry())
	if n := d.Inspect(`<ts> Locked target 'SomeoneElse'`); len(n) != 0 {
		t.Errorf("expected no notifications, got %+v", n)
	}
	if _, ok := d.HandleKill("Alice", "SomeoneElse", "", ""); ok {
		t.Error("expected kill on unregistered victim to be ignored")
	}
}

func TestInspect_KeywordGatesFamily(t *testing.T) {
	d := NewDetector(testRegistry())
	n := d.Inspect(`<ts> Scanning complete on 'QuietOne'`)
	if len(n) != 1 || n[0].Type != types.BountyScan {
		t.Fatalf("expected one scan notification, got %+v", n)
	}

	n = d.Inspect(`<ts> Radar contact updated state=Locked for 'Vex_Marauder'`)
	if len(n) != 1 || n[0].Type != types.BountyLock {
		t.Errorf("expected radar lock notification, got %+v", n)
	}

	n = d.Inspect(`<ts> Tracking contact 'Vex_Marauder' bearing 090`)
	if len(n) != 1 || n[0].Type != types.BountyDetect {
		t.Errorf("expected detect notification, got %+v", n)
	}
}

func TestRecentCache_FIFOEviction(t *testing.T) {
	c := NewRecentCache(2)
	c.Remember(types.BountyLock, "a", "l1")
	c.Remember(types.BountyLock, "b", "l2")
	if c.Remember(types.BountyLock, "a", "l1") {
		t.Fatal("expected a to still be cached")
	}
	c.Remember(types.BountyLock, "c", "l3")
	if !c.Remember(types.BountyLock, "a", "l1") {
		t.Error("expected oldest key evicted despite recent hit")
	}
	if c.Len() != 2 {
		t.Errorf("expected capacity 2, got %d", c.Len())
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(`  "Vex_Marauder[BLIGHT]" `); got != "vex_marauder" {
		t.Errorf("unexpected normalized handle %q", got)
	}
}

func TestParseRegistry(t *testing.T) {
	r, err := ParseRegistry([]byte("targets:\n  - handle: Vex\n    requirement: FPS only\n"))
	if err != nil {
		t.Fatal(err)
	}
	tgt, ok := r.Lookup("VEX")
	if !ok || tgt.Requirement != "FPS only" {
		t.Errorf("unexpected lookup %+v %v", tgt, ok)
	}

	def, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("embedded registry: %v", err)
	}
	if def == nil {
		t.Fatal("expected embedded registry")
	}
	if _, err := ParseRegistry([]byte("targets: [")); err == nil || !strings.Contains(err.Error(), "parse bounty registry") {
		t.Errorf("expected parse error, got %v", err)
	}
}
