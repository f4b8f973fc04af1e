// Package keys owns the collector credential: activation, periodic expiry
// checks with a published countdown, and the shutdown sequence that runs
// when the credential is invalidated or expires.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/types"
)

var (
	ErrNoIdentity = errors.New("player handle has not been found yet")
	ErrInvalidKey = errors.New("invalid key")
)

const (
	StatusValid   = "Key Status: Valid"
	StatusInvalid = "Key Status: Invalid"
	StatusExpired = "Key Status: Expired"
)

// Collector is the subset of the collector client the manager needs.
type Collector interface {
	ValidateKey(ctx context.Context, key, player string) error
	FetchExpiry(ctx context.Context, key, player string) (time.Time, error)
	FetchDataMap(ctx context.Context, key, dataType string) ([]types.DataEntry, error)
}

type Identity interface {
	Identity() types.PlayerIdentity
}

// KeyStore persists the credential.
type KeyStore interface {
	SaveKey(key string) error
}

// DataSink receives refreshed server-side data maps.
type DataSink interface {
	SetWeapons(entries []types.DataEntry) bool
	SetIgnoredVictimRules(entries []types.DataEntry) bool
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithDataSink(s DataSink) Option { return func(m *Manager) { m.data = s } }

// WithStatus registers a callback for every published status line.
func WithStatus(fn func(string)) Option { return func(m *Manager) { m.onStatus = fn } }

// WithHealth registers a callback for connection health observed by
// validation.
func WithHealth(fn func(bool)) Option { return func(m *Manager) { m.onHealth = fn } }

// OnStop registers a hook run once per countdown when the credential is
// invalidated or expires.
func OnStop(fn func()) Option {
	return func(m *Manager) { m.onStop = append(m.onStop, fn) }
}

type Manager struct {
	api      Collector
	identity Identity
	data     DataSink
	clock    Clock
	interval time.Duration
	onStatus func(string)
	onHealth func(bool)
	onStop   []func()

	mu     sync.RWMutex
	key    string
	status string
	expiry time.Time
	store  KeyStore

	countdown atomic.Bool
	kick      chan struct{}
}

func NewManager(api Collector, identity Identity, opts ...Option) *Manager {
	m := &Manager{
		api:      api,
		identity: identity,
		clock:    realClock{},
		interval: 60 * time.Second,
		status:   StatusInvalid,
		kick:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetStore attaches the persistence target once the identity is known.
func (m *Manager) SetStore(s KeyStore) {
	m.mu.Lock()
	m.store = s
	m.mu.Unlock()
}

// Key returns the active credential, or "" when none is active.
func (m *Manager) Key() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

func (m *Manager) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Expiry returns the last expiry reported by the collector.
func (m *Manager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry
}

func (m *Manager) CountdownActive() bool { return m.countdown.Load() }

// Validate asks the collector whether key is valid for the current player.
func (m *Manager) Validate(ctx context.Context, key string) bool {
	id := m.identity.Identity()
	if !id.Known() || key == "" {
		return false
	}
	err := m.api.ValidateKey(ctx, key, id.Handle)
	m.health(err == nil)
	if err != nil {
		slog.Error("validate key", "player", id.Handle, "error", err)
		return false
	}
	return true
}

// Activate validates key, stores and persists it, and starts the countdown
// if it is not already running.
func (m *Manager) Activate(ctx context.Context, key string) error {
	if !m.identity.Identity().Known() {
		m.publish(StatusInvalid)
		return ErrNoIdentity
	}
	if !m.Validate(ctx, key) {
		m.mu.Lock()
		m.key = ""
		m.mu.Unlock()
		m.publish(StatusInvalid)
		return ErrInvalidKey
	}

	m.mu.Lock()
	m.key = key
	m.mu.Unlock()
	if err := m.persist(key); err != nil {
		slog.Error("persist key", "error", err)
	}
	m.publish(StatusValid)
	slog.Info("key activated", "player", m.identity.Identity().Handle)

	if m.countdown.CompareAndSwap(false, true) {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run drives the countdown until ctx is done. The first check runs as
// soon as a key is activated, then every interval.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.kick:
			m.Tick(ctx)
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one countdown iteration.
func (m *Manager) Tick(ctx context.Context) {
	if !m.countdown.Load() {
		return
	}
	key := m.Key()
	if key == "" {
		slog.Warn("expiry check skipped, no key")
		return
	}
	id := m.identity.Identity()
	if !id.Known() {
		slog.Debug("expiry check skipped, player handle unknown")
		return
	}

	expiry, err := m.api.FetchExpiry(ctx, key, id.Handle)
	switch {
	case errors.Is(err, collector.ErrInvalidated):
		m.health(false)
		slog.Error("key invalidated by collector", "player", id.Handle)
		m.stop()
		return
	case err != nil:
		m.health(false)
		slog.Warn("fetch key expiry, continuing", "error", err)
		return
	}
	m.health(true)

	m.mu.Lock()
	m.expiry = expiry
	m.mu.Unlock()

	remaining := Remaining(expiry, m.clock.Now())
	if remaining <= 0 {
		slog.Error("key expired", "player", id.Handle, "expiry", expiry)
		m.stop()
		return
	}

	m.publish(FormatRemaining(remaining))
	if err := m.persist(key); err != nil {
		slog.Error("persist key", "error", err)
	}
	m.refreshData(ctx, key)
}

// stop clears the credential and runs the stop hooks. It runs at most once
// per activation.
func (m *Manager) stop() {
	if !m.countdown.CompareAndSwap(true, false) {
		return
	}
	if err := m.persist(""); err != nil {
		slog.Error("clear persisted key", "error", err)
	}
	m.mu.Lock()
	m.key = ""
	m.mu.Unlock()
	for _, fn := range m.onStop {
		fn()
	}
	m.publish(StatusExpired)
}

func (m *Manager) refreshData(ctx context.Context, key string) {
	if m.data == nil {
		return
	}
	if entries, err := m.api.FetchDataMap(ctx, key, collector.DataWeapons); err != nil {
		slog.Warn("refresh data map", "type", collector.DataWeapons, "error", err)
	} else if m.data.SetWeapons(entries) {
		slog.Debug("data map updated", "type", collector.DataWeapons, "entries", len(entries))
	}
	if entries, err := m.api.FetchDataMap(ctx, key, collector.DataIgnoredVictimRules); err != nil {
		slog.Warn("refresh data map", "type", collector.DataIgnoredVictimRules, "error", err)
	} else if m.data.SetIgnoredVictimRules(entries) {
		slog.Debug("data map updated", "type", collector.DataIgnoredVictimRules, "entries", len(entries))
	}
}

func (m *Manager) persist(key string) error {
	m.mu.RLock()
	s := m.store
	m.mu.RUnlock()
	if s == nil {
		return nil
	}
	if err := s.SaveKey(key); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

func (m *Manager) publish(status string) {
	m.mu.Lock()
	changed := m.status != status
	m.status = status
	m.mu.Unlock()
	if changed {
		slog.Info("key status", "status", status)
	}
	if m.onStatus != nil {
		m.onStatus(status)
	}
}

func (m *Manager) health(ok bool) {
	if m.onHealth != nil {
		m.onHealth(ok)
	}
}

// Remaining is expiry minus now, clamped at zero and truncated to seconds.
func Remaining(expiry, now time.Time) time.Duration {
	d := expiry.Sub(now).Truncate(time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders the countdown status line.
func FormatRemaining(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%s (Expires in %d days)", StatusValid, days)
	case hours > 0:
		return fmt.Sprintf("%s (Expires in %d hours %d minutes)", StatusValid, hours, minutes)
	default:
		return fmt.Sprintf("%s (Expires in %d minutes %d seconds)", StatusValid, minutes, seconds)
	}
}
