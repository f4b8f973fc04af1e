// Package monitor wires the tracker pipeline together: it tails the game
// log, feeds each line through context tracking, kill classification and
// bounty detection, and routes the results to delivery, presence and
// notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/user/killtracker/internal/bounty"
	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/config"
	"github.com/user/killtracker/internal/delivery"
	"github.com/user/killtracker/internal/gateway"
	"github.com/user/killtracker/internal/keys"
	"github.com/user/killtracker/internal/notify"
	"github.com/user/killtracker/internal/presence"
	"github.com/user/killtracker/internal/scheduler"
	"github.com/user/killtracker/internal/state"
	"github.com/user/killtracker/internal/tailer"
	"github.com/user/killtracker/internal/tracker"
	"github.com/user/killtracker/internal/types"
)

// Event types recorded in the activity log.
const (
	EventKill     = "kill"
	EventDeath    = "death"
	EventContext  = "context"
	EventBounty   = "bounty"
	EventKey      = "key"
	EventPresence = "presence"
)

const (
	soundKill  = "kill"
	soundDeath = "death"
)

// Monitor owns one tracking session.
type Monitor struct {
	cfg     *config.Config
	session types.SessionID

	State      *tracker.State
	Lookups    *tracker.Lookups
	Classifier *tracker.Classifier
	Stats      *tracker.Stats
	Detector   *bounty.Detector
	Engine     *delivery.Engine
	Dispatcher *gateway.Dispatcher
	Keys       *keys.Manager
	Presence   *presence.Heartbeat
	Scheduler  *scheduler.Scheduler
	Sounds     *notify.Sounds
	Events     types.EventStore

	active atomic.Bool

	profileMu sync.Mutex
	profile   *state.ProfileStore

	bg sync.WaitGroup
}

type Option func(*Monitor)

// WithNotifier routes kill and bounty messages to n.
func WithNotifier(n gateway.Notifier) Option {
	return func(m *Monitor) { m.Dispatcher.SetNotifier(n) }
}

func WithEventStore(s types.EventStore) Option {
	return func(m *Monitor) { m.Events = s }
}

// WithRegistry replaces the bounty target registry.
func WithRegistry(r *bounty.Registry) Option {
	return func(m *Monitor) {
		m.Detector = bounty.NewDetector(r, bounty.WithSound(m.Sounds), bounty.WithHandler(m.onBounty))
	}
}

// New builds a monitor talking to the collector through client.
func New(cfg *config.Config, client *collector.Client, opts ...Option) (*Monitor, error) {
	registry, err := loadRegistry(cfg.BountyRegistry)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:       cfg,
		session:   types.NewSessionID(),
		State:     tracker.NewState(),
		Lookups:   tracker.NewLookups(),
		Stats:     &tracker.Stats{},
		Scheduler: scheduler.New(),
		Sounds:    notify.NewSounds(cfg.Volume.Level, cfg.Volume.IsMuted),
	}
	m.Classifier = tracker.NewClassifier(cfg.ClientVersion, m.Lookups)
	m.Classifier.Anonymize = func() bool { return m.cfg.Anonymize }
	m.Detector = bounty.NewDetector(registry, bounty.WithSound(m.Sounds), bounty.WithHandler(m.onBounty))

	m.Keys = keys.NewManager(client, m.State,
		keys.WithInterval(cfg.CountdownInterval()),
		keys.WithDataSink(m.Lookups),
		keys.WithStatus(m.onKeyStatus),
		keys.WithHealth(func(ok bool) { m.Engine.SetHealthy(ok) }),
		keys.OnStop(m.onKeyStopped),
	)
	m.Engine = delivery.NewEngine(client, m.Keys, nil, nil)
	m.Dispatcher = gateway.New(m.Engine, nil, int64(cfg.MaxConcurrentPosts))
	m.Presence = presence.New(client, m.Keys, m.State,
		presence.WithIntervals(cfg.HeartbeatInterval(), cfg.RosterInterval()),
		presence.WithClientVersion(cfg.ClientVersion),
	)
	m.Events = state.NewEventLog(cfg.DataDir)

	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func loadRegistry(path string) (*bounty.Registry, error) {
	if path == "" {
		return bounty.DefaultRegistry()
	}
	r, err := bounty.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load bounty registry: %w", err)
	}
	return r, nil
}

func (m *Monitor) Session() types.SessionID { return m.session }

// Active reports whether monitoring is active, i.e. a key is activated.
func (m *Monitor) Active() bool { return m.active.Load() }

// Profile returns the open profile store, or nil before the player's
// handle is known.
func (m *Monitor) Profile() *state.ProfileStore {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	return m.profile
}

// Run tails path until ctx is done. The backlog is replayed first to
// rebuild context, then new lines are followed while monitoring is active
// or the player is still unidentified.
func (m *Monitor) Run(ctx context.Context, path string) error {
	t, err := tailer.Open(path, tailer.WithPollInterval(m.cfg.PollInterval()))
	if err != nil {
		return err
	}
	defer t.Close()

	if err := m.Scheduler.Every("resend", m.cfg.Intervals.ResendSec, m.Active, func(ctx context.Context) error {
		_, err := m.Engine.ResendOnce(ctx)
		return err
	}); err != nil {
		return err
	}

	m.Dispatcher.Start(ctx)
	defer m.shutdown()

	backlog, err := t.ReadBacklog()
	if err != nil {
		return fmt.Errorf("read backlog: %w", err)
	}
	m.ReplayBacklog(ctx, backlog)
	slog.Info("monitoring session started", "session", string(m.session), "log", path, "backlog_lines", len(backlog))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Keys.Run(ctx) })
	g.Go(func() error { return m.Presence.Run(ctx) })
	g.Go(func() error { return m.Scheduler.Run(ctx) })
	g.Go(func() error {
		gate := func() bool { return m.active.Load() || !m.State.Identity().Known() }
		return t.Follow(ctx, gate, func(line string) { m.ProcessLine(ctx, line, true) })
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// ReplayBacklog rebuilds context from lines already in the log. Nothing is
// posted. The player ends on foot, and a discovered identity is activated.
func (m *Monitor) ReplayBacklog(ctx context.Context, lines []string) {
	for _, line := range lines {
		m.ProcessLine(ctx, line, false)
	}
	m.State.ToFPS()
	if m.State.Identity().Known() {
		m.onIdentity(ctx)
	}
}

// Activate validates and activates key, enabling monitoring.
func (m *Monitor) Activate(ctx context.Context, key string) error {
	if err := m.ensureProfile(); err != nil && !errors.Is(err, state.ErrNoIdentity) {
		slog.Error("open profile", "error", err)
	}
	if err := m.Keys.Activate(ctx, key); err != nil {
		return err
	}
	m.Engine.SetHealthy(true)
	m.active.Store(true)
	m.record(ctx, EventKey, "activated", map[string]string{"player": m.State.Identity().Handle})
	if m.cfg.Commander.AutoConnect {
		if err := m.Presence.Connect(); err != nil {
			slog.Warn("commander auto-connect", "error", err)
		}
	}
	return nil
}

// SetVolume updates and persists the cue volume.
func (m *Monitor) SetVolume(level float64, muted bool) error {
	m.Sounds.SetVolume(level, muted)
	if p := m.Profile(); p != nil {
		return p.SaveVolume(level, muted)
	}
	return nil
}

func (m *Monitor) shutdown() {
	m.Dispatcher.Stop()
	m.bg.Wait()
	m.Presence.Disconnect()
	if err := m.Engine.Close(); err != nil {
		slog.Error("final buffer persist", "error", err)
	}
	slog.Info("monitoring session stopped", "session", string(m.session), "pending", m.Engine.Buffer().Len())
}

// onIdentity opens the player's profile and activates the stored key.
func (m *Monitor) onIdentity(ctx context.Context) {
	if err := m.ensureProfile(); err != nil {
		slog.Error("open profile", "error", err)
		return
	}
	if m.active.Load() {
		return
	}
	key := m.cfg.Key
	if key == "" {
		key = m.Profile().Profile().Key
	}
	if key == "" {
		slog.Info("no saved key, waiting for activation", "player", m.State.Identity().Handle)
		return
	}
	if err := m.Activate(ctx, key); err != nil {
		slog.Warn("saved key not activated", "error", err)
	}
}

// ensureProfile opens the profile once the handle is known and loads its
// buffer, volume and key store.
func (m *Monitor) ensureProfile() error {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if m.profile != nil {
		return nil
	}
	p, err := state.OpenProfile(m.cfg.DataDir, m.State.Identity().Handle)
	if err != nil {
		return err
	}
	prof := p.Profile()
	for _, e := range prof.Pickle {
		m.Engine.Buffer().Add(e)
	}
	if err := m.Engine.SetPersister(p); err != nil {
		slog.Error("persist buffer", "error", err)
	}
	m.Keys.SetStore(p)
	m.Sounds.SetVolume(prof.Volume.Level, prof.Volume.IsMuted)
	m.profile = p
	slog.Info("profile loaded", "path", p.Path(), "buffered", len(prof.Pickle))
	return nil
}

func (m *Monitor) onKeyStatus(status string) {
	slog.Debug("key status published", "status", status)
}

// onKeyStopped runs when the key is invalidated or expires.
func (m *Monitor) onKeyStopped() {
	m.Presence.Disconnect()
	m.active.Store(false)
	m.Engine.SetHealthy(false)
	m.record(context.Background(), EventKey, "stopped", map[string]string{"status": keys.StatusExpired})
}

func (m *Monitor) onBounty(n bounty.Notification) {
	m.record(context.Background(), EventBounty, string(n.Type), n)
	if err := m.Dispatcher.Notify(n.Message); err != nil {
		slog.Warn("bounty notification", "error", err)
	}
}

func (m *Monitor) record(ctx context.Context, typ, source string, payload any) {
	if m.Events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("encode event payload", "type", typ, "error", err)
		return
	}
	ev := &types.Event{SessionID: m.session, Type: typ, Source: source, Payload: raw}
	if err := m.Events.Append(ctx, ev); err != nil {
		slog.Warn("record event", "type", typ, "error", err)
	}
}
