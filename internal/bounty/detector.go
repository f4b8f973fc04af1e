// Package bounty detects passive interactions (lock-on, scans, detections)
// with registered Continental bounty targets and confirmed kills on them.
package bounty

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/user/killtracker/internal/types"
)

const soundBounty = "bounty"

var (
	lockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Lock(?:ed|ing)?(?: target)? ['"](?P<target>[A-Za-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)Target lock .*?['"](?P<target>[A-Za-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)Radar contact .*?state=(?:Locked|Locking).*?['"](?P<target>[A-Za-z0-9_\-]+)`),
	}
	scanPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Scan(?:ned|ning)?.*?['"](?P<target>[A-Za-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)Scan (?:complete|success|result).*?['"](?P<target>[A-Za-z0-9_\-]+)`),
	}
	detectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Detect(?:ed|ing).*?['"](?P<target>[A-Za-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)Tracking contact .*?['"](?P<target>[A-Za-z0-9_\-]+)`),
	}
)

// Notification is one bounty alert.
type Notification struct {
	ID          types.NotificationID  `json:"id"`
	Type        types.BountyEventType `json:"type"`
	Target      string                `json:"target"`
	Requirement string                `json:"requirement,omitempty"`
	Actor       string                `json:"actor,omitempty"`
	Weapon      string                `json:"weapon,omitempty"`
	Message     string                `json:"message"`
	At          time.Time             `json:"at"`
}

// Detector scans lines for bounty target interactions. Inspect is called
// from the single line consumer; HandleKill may be called from the same.
type Detector struct {
	registry *Registry
	recent   *RecentCache
	sound    types.SoundCue
	onNotify func(Notification)
	now      func() time.Time
}

type Option func(*Detector)

func WithSound(s types.SoundCue) Option {
	return func(d *Detector) { d.sound = s }
}

// WithHandler registers a callback for every notification.
func WithHandler(fn func(Notification)) Option {
	return func(d *Detector) { d.onNotify = fn }
}

func NewDetector(registry *Registry, opts ...Option) *Detector {
	d := &Detector{registry: registry, recent: NewRecentCache(recentCapacity), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inspect checks a raw log line against the lock, scan and detect families.
// Each family only runs when its keyword occurs in the line; within a family
// the first pattern naming a registered target wins.
func (d *Detector) Inspect(line string) []Notification {
	if d.registry == nil || d.registry.Len() == 0 {
		return nil
	}
	lower := strings.ToLower(line)
	var out []Notification
	if strings.Contains(lower, "lock") {
		out = d.tryFamily(line, types.BountyLock, lockPatterns, out)
	}
	if strings.Contains(lower, "scan") {
		out = d.tryFamily(line, types.BountyScan, scanPatterns, out)
	}
	if strings.Contains(lower, "detect") || strings.Contains(lower, "tracking") || strings.Contains(lower, "radar contact") {
		out = d.tryFamily(line, types.BountyDetect, detectPatterns, out)
	}
	return out
}

func (d *Detector) tryFamily(line string, typ types.BountyEventType, patterns []*regexp.Regexp, out []Notification) []Notification {
	for _, re := range patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		raw := m[re.SubexpIndex("target")]
		if raw == "" {
			continue
		}
		target, ok := d.registry.Lookup(raw)
		if !ok {
			continue
		}
		msg := fmt.Sprintf("Continental bounty %s on %s detected.", typ, target.Handle)
		if target.Requirement != "" {
			msg += " Requirement: " + target.Requirement
		}
		if !d.recent.Remember(typ, target.Handle, strings.TrimSpace(line)) {
			return out
		}
		n := d.notify(typ, target, "", "", msg)
		return append(out, n)
	}
	return out
}

// HandleKill reports a confirmed kill of a registered target. It always
// notifies; earlier lock or scan alerts on the target never suppress it.
func (d *Detector) HandleKill(killer, victim, weapon, rawLine string) (Notification, bool) {
	if d.registry == nil {
		return Notification{}, false
	}
	target, ok := d.registry.Lookup(victim)
	if !ok {
		return Notification{}, false
	}
	msg := fmt.Sprintf("Continental bounty kill on %s by %s.", target.Handle, killer)
	if target.Requirement != "" {
		msg += " Requirement: " + target.Requirement
	}
	return d.notify(types.BountyKill, target, killer, weapon, msg), true
}

func (d *Detector) notify(typ types.BountyEventType, target types.BountyTarget, actor, weapon, msg string) Notification {
	n := Notification{
		ID:          types.NewNotificationID(),
		Type:        typ,
		Target:      target.Handle,
		Requirement: target.Requirement,
		Actor:       actor,
		Weapon:      weapon,
		Message:     msg,
		At:          d.now(),
	}
	slog.Info(msg, "bounty_event", string(typ), "target", target.Handle)
	if d.sound != nil {
		d.sound.Play(soundBounty)
	}
	if d.onNotify != nil {
		d.onNotify(n)
	}
	return n
}
