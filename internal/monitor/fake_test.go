package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/config"
	"github.com/user/killtracker/internal/types"
)

// fakeCollector records posts and can be switched to fail kill reports.
type fakeCollector struct {
	*httptest.Server

	failKills   atomic.Bool
	invalidated atomic.Bool

	mu         sync.Mutex
	kills      map[string][]types.KillPayload
	heartbeats []types.HeartbeatPayload
}

func newFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	f := &fakeCollector{kills: make(map[string][]types.KillPayload)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeCollector) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch {
	case r.URL.Path == "/validateKey":
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		switch {
		case m["is_heartbeat"] != nil:
			var hb types.HeartbeatPayload
			_ = json.Unmarshal(body, &hb)
			f.mu.Lock()
			f.heartbeats = append(f.heartbeats, hb)
			f.mu.Unlock()
			fmt.Fprint(w, `{"commanders":[{"player":"Wing","zone":"FPS","status":"alive"}]}`)
		case m["api_key"] != nil:
			if r.Header.Get("Authorization") != "good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{}`)
		default:
			if f.invalidated.Load() {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			fmt.Fprintf(w, `{"expires_at":%q}`, time.Now().Add(72*time.Hour).UTC().Format(time.RFC3339Nano))
		}
	case strings.HasPrefix(r.URL.Path, "/api/server/data/"):
		typ := strings.TrimPrefix(r.URL.Path, "/api/server/data/")
		fmt.Fprintf(w, `{%q:[]}`, typ)
	case r.URL.Path == "/reportKill" || r.URL.Path == "/reportACKill":
		if f.failKills.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var p types.KillPayload
		_ = json.Unmarshal(body, &p)
		f.mu.Lock()
		f.kills[strings.TrimPrefix(r.URL.Path, "/")] = append(f.kills[strings.TrimPrefix(r.URL.Path, "/")], p)
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCollector) posted(endpoint string) []types.KillPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.KillPayload(nil), f.kills[endpoint]...)
}

func (f *fakeCollector) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	t.Setenv("KILLTRACKER_KEY", "")
	t.Setenv("KILLTRACKER_COLLECTOR_URL", "")
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = dir
	cfg.Collector.BaseURL = baseURL
	cfg.Intervals.PollMS = 20
	cfg.Intervals.HeartbeatSec = 1
	cfg.Intervals.RosterMS = 20
	return cfg
}

func newTestMonitor(t *testing.T, f *fakeCollector) *Monitor {
	t.Helper()
	cfg := testConfig(t, f.URL)
	m, err := New(cfg, collector.New(cfg.Collector.BaseURL, 5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	m.Dispatcher.Start(context.Background())
	t.Cleanup(m.Dispatcher.Stop)
	return m
}

func loginLines(handle string) []string {
	return []string{
		fmt.Sprintf("<2024-05-01T11:59:00.000Z> [Notice] <Legacy login response> [CIG-net] User Login Success - Handle[%s] - Time[123]", handle),
		"<2024-05-01T11:59:01.000Z> [Notice] <AccountLoginCharacterStatus_Character> Character: createdAt 1 - updatedAt 2 - geid 200000001 - accountId 7",
	}
}

func killLine(victim, zone, killer, weapon, damage string) string {
	return fmt.Sprintf("<2024-05-01T12:00:00.000Z> [Notice] <Actor Death> CActor::Kill: '%s' [200000001] in zone '%s' killed by '%s' [200000002] using '%s' [Class unknown] with damage type '%s' from direction x: 0, y: 0, z: 0 [Team_ActorTech][Actor]",
		victim, zone, killer, weapon, damage)
}

func contextLine(mode types.GameMode) string {
	return fmt.Sprintf(`<2024-05-01T12:00:00.000Z> [Notice] <Context Establisher Done> establisher="CReplicationModel" runningTime=10.5 numRuns=1 map="megamap" gamerules="%s" sessionId="abc" [Team_Network]`, mode)
}

// activate identifies the player and activates the good key.
func activate(t *testing.T, m *Monitor, handle string) {
	t.Helper()
	ctx := context.Background()
	m.ReplayBacklog(ctx, loginLines(handle))
	if err := m.Activate(ctx, "good"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func drain(t *testing.T, m *Monitor) {
	t.Helper()
	if !m.Dispatcher.Queue.WaitIdle(5 * time.Second) {
		t.Fatal("dispatcher did not drain")
	}
}
