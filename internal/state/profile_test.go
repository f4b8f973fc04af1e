package state

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/types"
)

func sampleEntry(victim string) types.BufferEntry {
	return types.BufferEntry{
		KillResult: types.KillResult{
			Result: types.OutcomeKiller,
			Data:   types.KillPayload{Player: "Pilot", Victim: victim, Zone: "ANVL_Arrow"},
		},
		Endpoint: "reportKill",
	}
}

func TestOpenProfileUnknownHandle(t *testing.T) {
	if _, err := OpenProfile(t.TempDir(), types.Unknown); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatalf("OpenProfile: %v", err)
	}
	if got := s.Profile().Volume.Level; got != 0.5 {
		t.Errorf("default volume: got %v", got)
	}
	if err := s.SaveKey("abc"); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if err := s.SaveVolume(1.7, true); err != nil {
		t.Fatalf("SaveVolume: %v", err)
	}
	if err := s.SaveBuffer([]types.BufferEntry{sampleEntry("A"), sampleEntry("B")}); err != nil {
		t.Fatalf("SaveBuffer: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), profileMagic) {
		t.Fatalf("expected sealed file, got %q", data)
	}
	if strings.Contains(string(data), "abc") {
		t.Error("key stored in clear")
	}

	again, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	p := again.Profile()
	if p.Key != "abc" {
		t.Errorf("key: got %q", p.Key)
	}
	if p.Volume.Level != 1 || !p.Volume.IsMuted {
		t.Errorf("volume: got %+v", p.Volume)
	}
	if len(p.Pickle) != 2 || p.Pickle[0].KillResult.Data.Victim != "A" {
		t.Errorf("pickle: got %+v", p.Pickle)
	}
}

func TestProfileWrongHandleFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveKey("abc"); err != nil {
		t.Fatal(err)
	}
	// Same file, different handle: decryption fails and defaults apply.
	other := &ProfileStore{path: s.Path(), handle: "Other"}
	other.key, _ = deriveProfileKey("Other")
	data, _ := os.ReadFile(s.Path())
	if _, _, err := other.decode(data); err == nil {
		t.Fatal("expected decode error with wrong handle")
	}
}

func TestProfilePathSanitizesHandle(t *testing.T) {
	got := filepath.Base(ProfilePath("/tmp", `a/b:c*d`))
	if got != "bv_killtracker_a_b_c_d.cfg" {
		t.Errorf("got %q", got)
	}
}

func TestProfileReadsLegacyXOR(t *testing.T) {
	dir := t.TempDir()
	plain, _ := json.Marshal(Profile{Key: "legacy", Volume: Volume{Level: 0.3}})
	k := sha256.Sum256([]byte("Pilot"))
	x := make([]byte, len(plain))
	for i, b := range plain {
		x[i] = b ^ k[i%len(k)]
	}
	path := ProfilePath(dir, "Pilot")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(x)), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Profile().Key; got != "legacy" {
		t.Errorf("key: got %q", got)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), profileMagic) {
		t.Error("legacy file not rewritten in sealed format")
	}
}

func TestProfileReadsPlainBase64(t *testing.T) {
	dir := t.TempDir()
	plain, _ := json.Marshal(Profile{Key: "plain"})
	path := ProfilePath(dir, "Pilot")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(plain)), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Profile().Key; got != "plain" {
		t.Errorf("key: got %q", got)
	}
}

func TestProfileMigratesLegacySingleFile(t *testing.T) {
	dir := t.TempDir()
	plain, _ := json.Marshal(Profile{Key: "old", Pickle: []types.BufferEntry{sampleEntry("V")}})
	legacy := filepath.Join(dir, legacyProfile)
	if err := os.WriteFile(legacy, []byte(base64.StdEncoding.EncodeToString(plain)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatal(err)
	}
	p := s.Profile()
	if p.Key != "old" || len(p.Pickle) != 1 {
		t.Errorf("migrated profile: got %+v", p)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("legacy file still present")
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("per-identity file missing: %v", err)
	}
}

func TestProfileGarbageFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(ProfilePath(dir, "Pilot"), []byte("!!not base64!!"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := OpenProfile(dir, "Pilot")
	if err != nil {
		t.Fatal(err)
	}
	p := s.Profile()
	if p.Key != "" || len(p.Pickle) != 0 || p.Volume.Level != 0.5 {
		t.Errorf("expected defaults, got %+v", p)
	}
}
