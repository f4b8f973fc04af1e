// Package presence runs commander mode: a heartbeat loop that reports the
// player's zone and status to the collector and receives the roster of
// other connected participants.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/killtracker/internal/types"
)

const (
	modeCommander = "commander"
	statusAlive   = "alive"
	statusDead    = "dead"
)

var (
	// ErrInactive is returned by one-shot posts while commander mode is off.
	ErrInactive = errors.New("commander mode not connected")
	ErrNoKey    = errors.New("no key")
)

// Transport sends heartbeats to the collector.
type Transport interface {
	Heartbeat(ctx context.Context, key string, hb types.HeartbeatPayload) (types.HeartbeatResponse, error)
}

// Sink displays presence state. Implementations must not block.
type Sink interface {
	ShowConnected(connected bool)
	ShowRoster(connected, allocated []types.RosterEntry)
}

type Credentials interface {
	Key() string
}

// Context is the tracked player state the heartbeat reports.
type Context interface {
	Identity() types.PlayerIdentity
	Ship() types.ShipState
}

type nopSink struct{}

func (nopSink) ShowConnected(bool)                  {}
func (nopSink) ShowRoster(_, _ []types.RosterEntry) {}

type Option func(*Heartbeat)

func WithSink(s Sink) Option { return func(h *Heartbeat) { h.sink = s } }

func WithIntervals(heartbeat, roster time.Duration) Option {
	return func(h *Heartbeat) {
		if heartbeat > 0 {
			h.interval = heartbeat
		}
		if roster > 0 {
			h.rosterInterval = roster
		}
	}
}

func WithClientVersion(v string) Option { return func(h *Heartbeat) { h.clientVer = v } }

// Heartbeat composes a Transport and a Sink around the presence session.
type Heartbeat struct {
	transport      Transport
	sink           Sink
	creds          Credentials
	state          Context
	clientVer      string
	interval       time.Duration
	rosterInterval time.Duration

	active    atomic.Bool
	commander atomic.Bool

	// flagsMu guards the one-shot role flags and serializes their posts.
	flagsMu      sync.Mutex
	markComplete bool
	startBattle  bool
	abort        bool

	handoff chan []types.RosterEntry
	roster  *Roster
}

func New(transport Transport, creds Credentials, state Context, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		transport:      transport,
		sink:           nopSink{},
		creds:          creds,
		state:          state,
		clientVer:      "7.0",
		interval:       5 * time.Second,
		rosterInterval: time.Second,
		handoff:        make(chan []types.RosterEntry, 1),
		roster:         NewRoster(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Heartbeat) Roster() *Roster   { return h.roster }
func (h *Heartbeat) Active() bool      { return h.active.Load() }
func (h *Heartbeat) IsCommander() bool { return h.commander.Load() }

// Connect starts the session. It requires a credential.
func (h *Heartbeat) Connect() error {
	if h.creds.Key() == "" {
		return fmt.Errorf("connect commander mode: %w", ErrNoKey)
	}
	if h.active.CompareAndSwap(false, true) {
		slog.Info("commander mode connected")
		h.sink.ShowConnected(true)
	}
	return nil
}

// Disconnect ends the session and clears the roster.
func (h *Heartbeat) Disconnect() {
	if !h.active.CompareAndSwap(true, false) {
		return
	}
	h.commander.Store(false)
	h.roster.Clear()
	select {
	case <-h.handoff:
	default:
	}
	slog.Info("commander mode disconnected")
	h.sink.ShowConnected(false)
	h.sink.ShowRoster(nil, nil)
}

// Run drives the heartbeat and roster loops until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.heartbeatLoop(ctx) })
	g.Go(func() error { return h.rosterLoop(ctx) })
	return g.Wait()
}

func (h *Heartbeat) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if h.active.Load() {
				h.SendOnce(ctx)
			}
		}
	}
}

func (h *Heartbeat) rosterLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.rosterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.ConsumeOnce()
		}
	}
}

// SendOnce posts one heartbeat. A missing credential disconnects.
func (h *Heartbeat) SendOnce(ctx context.Context) {
	key := h.creds.Key()
	if key == "" {
		slog.Warn("heartbeat without key, disconnecting")
		h.Disconnect()
		return
	}
	hb := h.basePayload()
	hb.Mode = modeCommander
	if hb.IsCommander {
		hb.AllocUsers = h.roster.Allocated()
	}
	resp, err := h.transport.Heartbeat(ctx, key, hb)
	if err != nil {
		slog.Warn("heartbeat failed", "error", err)
		return
	}
	if resp.HasRoster {
		h.offer(resp.Commanders)
	}
}

// offer places entries in the single-slot hand-off, replacing any roster
// the consumer has not taken yet.
func (h *Heartbeat) offer(entries []types.RosterEntry) {
	for {
		select {
		case h.handoff <- entries:
			return
		default:
		}
		select {
		case <-h.handoff:
		default:
		}
	}
}

// ConsumeOnce merges a pending roster, if any, and reports whether one was
// taken.
func (h *Heartbeat) ConsumeOnce() bool {
	select {
	case entries := <-h.handoff:
		if !h.active.Load() {
			return false
		}
		h.roster.Refresh(entries)
		h.sink.ShowRoster(h.roster.Connected(), h.roster.Allocated())
		return true
	default:
		return false
	}
}

func (h *Heartbeat) basePayload() types.HeartbeatPayload {
	id := h.state.Identity()
	ship := h.state.Ship()
	status := statusAlive
	if ship.Current == types.ShipUnknown {
		status = statusDead
	}
	return types.HeartbeatPayload{
		IsHeartbeat: true,
		Player:      id.Handle,
		Zone:        ship.Current,
		ClientVer:   h.clientVer,
		Status:      status,
		IsCommander: h.commander.Load(),
	}
}

// Update is a one-shot presence event.
type Update struct {
	// Death reports the player killed in Zone; otherwise Zone is the new ship.
	Death  bool
	Player string
	Zone   string
}

// PostEvent sends u immediately with the current role flags.
func (h *Heartbeat) PostEvent(ctx context.Context, u Update) error {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	return h.postLocked(ctx, &u)
}

func (h *Heartbeat) postLocked(ctx context.Context, u *Update) error {
	key := h.creds.Key()
	if key == "" || !h.active.Load() {
		return ErrInactive
	}
	hb := h.basePayload()
	if u != nil {
		if u.Death {
			hb.Status = statusDead
			if u.Player != "" {
				hb.Player = u.Player
			}
		} else {
			hb.Status = statusAlive
		}
		hb.Zone = u.Zone
	}
	complete, start, abort := h.markComplete, h.startBattle, h.abort
	hb.MarkComplete, hb.StartBattle, hb.AbortCommand = &complete, &start, &abort
	if hb.IsCommander {
		hb.AllocUsers = h.roster.Allocated()
	}
	resp, err := h.transport.Heartbeat(ctx, key, hb)
	if err != nil {
		return fmt.Errorf("post presence event: %w", err)
	}
	if resp.HasRoster {
		h.offer(resp.Commanders)
	}
	return nil
}

func (h *Heartbeat) TakeCommand(ctx context.Context) error {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	h.commander.Store(true)
	return h.postLocked(ctx, nil)
}

// AbortCommand sends one abort and relinquishes command. It is a no-op
// when not commanding.
func (h *Heartbeat) AbortCommand(ctx context.Context) error {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	if !h.commander.Load() {
		return nil
	}
	h.abort = true
	err := h.postLocked(ctx, nil)
	h.abort = false
	h.commander.Store(false)
	return err
}

func (h *Heartbeat) StartBattle(ctx context.Context) error {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	h.startBattle, h.markComplete = true, false
	return h.postLocked(ctx, nil)
}

func (h *Heartbeat) MarkComplete(ctx context.Context) error {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	h.startBattle, h.markComplete = false, true
	return h.postLocked(ctx, nil)
}
