package monitor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/notify"
	"github.com/user/killtracker/internal/presence"
	"github.com/user/killtracker/internal/tracker"
	"github.com/user/killtracker/internal/types"
)

// ProcessLine handles one log line. Lines must arrive in file order from a
// single goroutine. live is false during backlog replay, when only context
// markers are applied.
func (m *Monitor) ProcessLine(ctx context.Context, line string, live bool) {
	if live && m.State.Mode() == types.ModeUniverse {
		m.Detector.Inspect(line)
	}

	change := m.State.Observe(line, live)
	switch change.Kind {
	case tracker.ChangeNone:
		if live && tracker.IsKillLine(line, m.State.Identity().Handle) {
			m.handleKill(ctx, line)
		}
		return
	case tracker.ChangeIdentity:
		if live && m.State.Identity().Known() {
			m.onIdentity(ctx)
		}
	}

	if !live {
		return
	}
	m.record(ctx, EventContext, change.Kind.String(), change)
	if change.ZoneShip {
		m.postPresence(ctx, presence.Update{Zone: change.Ship.Current})
	}
}

func (m *Monitor) handleKill(ctx context.Context, line string) {
	snap := m.State.Snapshot()
	ev, err := m.Classifier.Classify(line, snap)
	if err != nil {
		if errors.Is(err, tracker.ErrMalformedKill) {
			slog.Warn("malformed kill line", "error", err)
		} else {
			slog.Debug("kill line not attributed", "error", err)
		}
		return
	}

	switch ev.Outcome {
	case types.OutcomeExclusion, types.OutcomeReset:
		return

	case types.OutcomeKilled, types.OutcomeSuicide:
		m.Stats.RecordDeath()
		m.Sounds.Play(soundDeath)
		slog.Info("player died", "outcome", ev.Outcome, "killer", ev.Payload.Killer, "weapon", ev.Payload.Weapon, "context", ev.Death)
		m.record(ctx, EventDeath, string(ev.Outcome), ev)
		m.postPresence(ctx, presence.Update{Death: true, Player: ev.Payload.Victim, Zone: ev.Payload.Zone})
		m.State.ToFPS()

		if ev.Outcome == types.OutcomeKilled && snap.Mode == types.ModeFreeFlight {
			report, err := m.Classifier.ClassifyDeathReport(line, snap)
			if err != nil {
				slog.Warn("death report", "error", err)
			} else if report.Result == types.OutcomeKilled {
				m.deliver(ctx, report, collector.EndpointDeathKill)
			}
		}

	case types.OutcomeKiller:
		m.Stats.RecordKill()
		m.Sounds.Play(soundKill)
		slog.Info("kill recorded", "victim", ev.Payload.Victim, "weapon", ev.Payload.Weapon, "zone", ev.Payload.Zone)
		m.record(ctx, EventKill, string(ev.Outcome), ev)
		m.deliver(ctx, ev.Result(), collector.EndpointKill)
		if snap.Mode == types.ModeUniverse {
			m.Detector.HandleKill(ev.Payload.Player, ev.Payload.Victim, ev.Payload.Weapon, line)
		}
	}

	if msg := notify.Kill(ev); msg != "" {
		if err := m.Dispatcher.Notify(msg); err != nil {
			slog.Warn("kill notification", "error", err)
		}
	}
}

func (m *Monitor) deliver(ctx context.Context, result types.KillResult, endpoint string) {
	if err := m.Dispatcher.DispatchResult(ctx, result, endpoint); err != nil {
		slog.Warn("dispatch kill", "endpoint", endpoint, "error", err)
	}
}

// postPresence sends u in the background so a slow collector never stalls
// the line consumer.
func (m *Monitor) postPresence(ctx context.Context, u presence.Update) {
	if !m.Presence.Active() {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if err := m.Presence.PostEvent(ctx, u); err != nil {
			slog.Warn("presence event", "error", err)
			return
		}
		m.record(ctx, EventPresence, "event", u)
	}()
}
