package state

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/user/killtracker/internal/types"
)

// ErrNoIdentity is returned when a profile is opened without a known handle.
var ErrNoIdentity = errors.New("player handle not known")

const (
	profilePrefix = "bv_killtracker_"
	legacyProfile = "bv_killtracker.cfg"

	// profileMagic starts every file written in the authenticated format.
	profileMagic = "KT2:"
)

var (
	unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	hkdfInfoProfile = []byte("killtracker.profile.v2")
)

type Volume struct {
	Level   float64 `json:"level"`
	IsMuted bool    `json:"is_muted"`
}

// Profile is the persisted per-identity state. Pickle is the undelivered
// kill buffer in delivery order.
type Profile struct {
	Key    string              `json:"key"`
	Volume Volume              `json:"volume"`
	Pickle []types.BufferEntry `json:"pickle"`
}

func defaultProfile() Profile {
	return Profile{Volume: Volume{Level: 0.5}, Pickle: []types.BufferEntry{}}
}

// ProfileStore owns one identity's profile file. Every mutation rewrites
// the whole file through a temp file and rename.
type ProfileStore struct {
	path   string
	handle string
	key    []byte

	mu      sync.Mutex
	profile Profile
}

// OpenProfile loads the profile for handle from dir. Unreadable or
// undecryptable files fall back to defaults. A legacy single-user file is
// migrated once when the per-identity file does not exist yet.
func OpenProfile(dir, handle string) (*ProfileStore, error) {
	if handle == "" || handle == types.Unknown {
		return nil, ErrNoIdentity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	key, err := deriveProfileKey(handle)
	if err != nil {
		return nil, err
	}
	s := &ProfileStore{
		path:    ProfilePath(dir, handle),
		handle:  handle,
		key:     key,
		profile: defaultProfile(),
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		legacy := filepath.Join(dir, legacyProfile)
		if p, ok := s.readLegacySingle(legacy); ok {
			s.profile = p
			if err := s.writeLocked(); err != nil {
				return nil, err
			}
			os.Remove(legacy)
			slog.Info("migrated legacy profile", "from", legacy, "to", s.path)
		}
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Error("read profile, using defaults", "path", s.path, "error", err)
		return s, nil
	}
	p, legacyFormat, err := s.decode(data)
	if err != nil {
		slog.Error("decode profile, using defaults", "path", s.path, "error", err)
		return s, nil
	}
	s.profile = p
	if legacyFormat {
		if err := s.writeLocked(); err != nil {
			slog.Warn("rewrite legacy profile", "path", s.path, "error", err)
		}
	}
	return s, nil
}

// ProfilePath returns the per-identity profile path for handle.
func ProfilePath(dir, handle string) string {
	return filepath.Join(dir, profilePrefix+unsafeFileChars.ReplaceAllString(handle, "_")+".cfg")
}

func (s *ProfileStore) Path() string { return s.path }

// Profile returns a copy of the current profile.
func (s *ProfileStore) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	p.Pickle = append([]types.BufferEntry(nil), s.profile.Pickle...)
	return p
}

func (s *ProfileStore) SaveKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Key = key
	return s.writeLocked()
}

// SaveVolume stores the volume settings with level clamped to [0, 1].
func (s *ProfileStore) SaveVolume(level float64, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Volume = Volume{Level: clamp01(level), IsMuted: muted}
	return s.writeLocked()
}

// SaveBuffer replaces the persisted kill buffer.
func (s *ProfileStore) SaveBuffer(entries []types.BufferEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Pickle = append([]types.BufferEntry{}, entries...)
	return s.writeLocked()
}

func (s *ProfileStore) writeLocked() error {
	plain, err := json.Marshal(s.profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename profile: %w", err)
	}
	return nil
}

func (s *ProfileStore) seal(plain []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating random nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plain, []byte(profileMagic))
	return profileMagic + base64.StdEncoding.EncodeToString(out), nil
}

// decode reads any supported format and reports whether it was legacy.
func (s *ProfileStore) decode(data []byte) (Profile, bool, error) {
	text := strings.TrimSpace(string(data))
	if rest, ok := strings.CutPrefix(text, profileMagic); ok {
		p, err := s.open(rest)
		return p, false, err
	}

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Profile{}, false, fmt.Errorf("decode base64: %w", err)
	}
	if p, err := parseProfile(xorWithHandle(raw, s.handle)); err == nil {
		return p, true, nil
	}
	p, err := parseProfile(raw)
	if err != nil {
		return Profile{}, false, fmt.Errorf("parse legacy profile: %w", err)
	}
	slog.Warn("loaded unencrypted legacy profile", "path", s.path)
	return p, true, nil
}

func (s *ProfileStore) open(encoded string) (Profile, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Profile{}, fmt.Errorf("decode base64: %w", err)
	}
	if len(blob) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return Profile{}, errors.New("profile too short")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return Profile{}, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, []byte(profileMagic))
	if err != nil {
		return Profile{}, fmt.Errorf("decrypt profile: %w", err)
	}
	return parseProfile(plain)
}

// readLegacySingle reads the old single-user base64 JSON file.
func (s *ProfileStore) readLegacySingle(path string) (Profile, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, false
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		slog.Warn("legacy profile not base64", "path", path, "error", err)
		return Profile{}, false
	}
	p, err := parseProfile(raw)
	if err != nil {
		slog.Warn("legacy profile unreadable", "path", path, "error", err)
		return Profile{}, false
	}
	return p, true
}

func parseProfile(data []byte) (Profile, error) {
	p := defaultProfile()
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	if p.Pickle == nil {
		p.Pickle = []types.BufferEntry{}
	}
	p.Volume.Level = clamp01(p.Volume.Level)
	return p, nil
}

func deriveProfileKey(handle string) ([]byte, error) {
	seed := sha256.Sum256([]byte(handle))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed[:], nil, hkdfInfoProfile), key); err != nil {
		return nil, fmt.Errorf("derive profile key: %w", err)
	}
	return key, nil
}

// xorWithHandle reverses the legacy repeating-key XOR with sha256(handle).
func xorWithHandle(data []byte, handle string) []byte {
	k := sha256.Sum256([]byte(handle))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ k[i%len(k)]
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
