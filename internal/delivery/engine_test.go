package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/user/killtracker/internal/types"
)

type fakePoster struct {
	mu    sync.Mutex
	fail  bool
	posts []string
}

func (f *fakePoster) PostKill(_ context.Context, _, endpoint string, p types.KillPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.posts = append(f.posts, endpoint+":"+p.Victim)
	return nil
}

func (f *fakePoster) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type staticKey string

func (k staticKey) Key() string { return string(k) }

type memPersister struct {
	saves int
	last  []types.BufferEntry
}

func (m *memPersister) SaveBuffer(entries []types.BufferEntry) error {
	m.saves++
	m.last = entries
	return nil
}

func result(victim string) types.KillResult {
	return types.KillResult{
		Result: types.OutcomeKiller,
		Data:   types.KillPayload{Player: "Pilot", Victim: victim, Zone: "ANVL_Arrow", Weapon: "Laser"},
	}
}

func TestBufferDedup(t *testing.T) {
	b := NewBuffer(nil)
	e := types.BufferEntry{KillResult: result("A"), Endpoint: "reportKill"}
	if !b.Add(e) {
		t.Fatal("first add rejected")
	}
	if b.Add(e) {
		t.Error("duplicate accepted")
	}
	if !b.Add(types.BufferEntry{KillResult: result("A"), Endpoint: "reportACKill"}) {
		t.Error("different endpoint treated as duplicate")
	}
	if b.Len() != 2 {
		t.Errorf("len: got %d", b.Len())
	}
}

func TestBufferPopHeadOnlyMatching(t *testing.T) {
	a := types.BufferEntry{KillResult: result("A"), Endpoint: "reportKill"}
	c := types.BufferEntry{KillResult: result("B"), Endpoint: "reportKill"}
	b := NewBuffer([]types.BufferEntry{a, c})
	if b.PopHead(c) {
		t.Fatal("popped non-head entry")
	}
	if !b.PopHead(a) {
		t.Fatal("head not popped")
	}
	head, _ := b.Head()
	if head.KillResult.Data.Victim != "B" {
		t.Errorf("head: got %+v", head)
	}
}

func TestPostEventSuccessMarksHealthy(t *testing.T) {
	p := &fakePoster{}
	e := NewEngine(p, staticKey("k"), nil, &memPersister{})
	if err := e.PostEvent(context.Background(), result("A"), "reportKill"); err != nil {
		t.Fatalf("PostEvent: %v", err)
	}
	if !e.Healthy() {
		t.Error("expected healthy")
	}
	if e.Buffer().Len() != 0 {
		t.Error("successful post buffered")
	}
}

func TestPostEventNoCredentialBuffers(t *testing.T) {
	per := &memPersister{}
	e := NewEngine(&fakePoster{}, staticKey(""), nil, per)
	err := e.PostEvent(context.Background(), result("A"), "reportKill")
	var de *DeliveryError
	if !errors.As(err, &de) || !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected DeliveryError wrapping ErrNoCredential, got %v", err)
	}
	if e.Buffer().Len() != 1 || len(per.last) != 1 {
		t.Errorf("buffer %d persisted %d", e.Buffer().Len(), len(per.last))
	}
}

func TestPostEventFailureIsIdempotent(t *testing.T) {
	p := &fakePoster{fail: true}
	per := &memPersister{}
	e := NewEngine(p, staticKey("k"), nil, per)
	for i := 0; i < 3; i++ {
		if err := e.PostEvent(context.Background(), result("A"), "reportKill"); err == nil {
			t.Fatal("expected error")
		}
	}
	if e.Buffer().Len() != 1 {
		t.Errorf("buffer len: got %d", e.Buffer().Len())
	}
	if e.Healthy() {
		t.Error("expected unhealthy")
	}
	if per.saves != 1 {
		t.Errorf("saves: got %d", per.saves)
	}
}

func TestResendOnceGates(t *testing.T) {
	p := &fakePoster{}
	e := NewEngine(p, staticKey("k"), NewBuffer([]types.BufferEntry{{KillResult: result("A"), Endpoint: "reportKill"}}), nil)

	// Unhealthy: nothing is sent.
	if ok, err := e.ResendOnce(context.Background()); ok || err != nil {
		t.Fatalf("unhealthy resend: ok=%v err=%v", ok, err)
	}
	if len(p.posts) != 0 {
		t.Fatal("posted while unhealthy")
	}

	e.SetHealthy(true)
	noKey := NewEngine(p, staticKey(""), e.Buffer(), nil)
	noKey.SetHealthy(true)
	if ok, _ := noKey.ResendOnce(context.Background()); ok {
		t.Fatal("posted without a key")
	}
}

// A failed kill is buffered, later resends succeed one head per pass.
func TestBufferedKillDeliveredOnRecovery(t *testing.T) {
	p := &fakePoster{fail: true}
	per := &memPersister{}
	e := NewEngine(p, staticKey("k"), nil, per)
	ctx := context.Background()

	_ = e.PostEvent(ctx, result("A"), "reportKill")
	_ = e.PostEvent(ctx, result("B"), "reportKill")
	if e.Buffer().Len() != 2 {
		t.Fatalf("buffer len: got %d", e.Buffer().Len())
	}

	p.setFail(false)
	if err := e.PostEvent(ctx, result("C"), "reportKill"); err != nil {
		t.Fatalf("PostEvent after recovery: %v", err)
	}

	ok, err := e.ResendOnce(ctx)
	if !ok || err != nil {
		t.Fatalf("ResendOnce: ok=%v err=%v", ok, err)
	}
	if e.Buffer().Len() != 1 {
		t.Errorf("only the head should be sent, len=%d", e.Buffer().Len())
	}
	if got := p.posts[len(p.posts)-1]; got != "reportKill:A" {
		t.Errorf("expected head A first, got %s", got)
	}
	if len(per.last) != 1 {
		t.Errorf("persisted buffer: got %d entries", len(per.last))
	}

	if _, err := e.ResendOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if e.Buffer().Len() != 0 {
		t.Error("buffer not drained")
	}
}

func TestResendFailureKeepsHead(t *testing.T) {
	p := &fakePoster{}
	e := NewEngine(p, staticKey("k"), NewBuffer([]types.BufferEntry{{KillResult: result("A"), Endpoint: "reportKill"}}), nil)
	e.SetHealthy(true)
	p.setFail(true)
	if _, err := e.ResendOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if e.Buffer().Len() != 1 || e.Healthy() {
		t.Errorf("len=%d healthy=%v", e.Buffer().Len(), e.Healthy())
	}
}

func TestFlushDrains(t *testing.T) {
	p := &fakePoster{}
	buf := NewBuffer([]types.BufferEntry{
		{KillResult: result("A"), Endpoint: "reportKill"},
		{KillResult: result("B"), Endpoint: "reportACKill"},
	})
	e := NewEngine(p, staticKey("k"), buf, nil)
	n, err := e.Flush(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Flush: n=%d err=%v", n, err)
	}
}

func TestCloseWritesFinalState(t *testing.T) {
	per := &memPersister{}
	e := NewEngine(&fakePoster{}, staticKey("k"), NewBuffer([]types.BufferEntry{{KillResult: result("A"), Endpoint: "reportKill"}}), per)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if len(per.last) != 1 {
		t.Errorf("final persist: got %d", len(per.last))
	}
}

func TestIdenticalSuccessClearsBufferedCopy(t *testing.T) {
	p := &fakePoster{fail: true}
	per := &memPersister{}
	e := NewEngine(p, staticKey("k"), nil, per)
	ctx := context.Background()
	_ = e.PostEvent(ctx, result("A"), "reportKill")
	_ = e.PostEvent(ctx, result("A"), "reportKill")
	if e.Buffer().Len() != 1 {
		t.Fatalf("buffer len after two failures: %d", e.Buffer().Len())
	}
	p.setFail(false)
	if err := e.PostEvent(ctx, result("A"), "reportKill"); err != nil {
		t.Fatal(err)
	}
	if e.Buffer().Len() != 0 || len(per.last) != 0 {
		t.Errorf("buffer=%d persisted=%d", e.Buffer().Len(), len(per.last))
	}
}
