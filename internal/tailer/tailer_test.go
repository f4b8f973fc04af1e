package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestReadBacklog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	writeFile(t, path, "one\ntwo\r\nthree\n")

	tl, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	lines, err := tl.ReadBacklog()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[0] != "one" || lines[1] != "two" || lines[2] != "three" {
		t.Errorf("unexpected backlog %q", lines)
	}

	again, err := tl.ReadBacklog()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("expected no lines on second read, got %q", again)
	}
}

func TestPartialLineHeldUntilNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	writeFile(t, path, "first\nsec")

	tl, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	lines, _ := tl.readAvailable()
	if len(lines) != 1 || lines[0] != "first" {
		t.Fatalf("expected only complete line, got %q", lines)
	}

	appendFile(t, path, "ond\n")
	lines, _ = tl.readAvailable()
	if len(lines) != 1 || lines[0] != "second" {
		t.Errorf("expected joined partial line, got %q", lines)
	}
}

func TestTruncationRestartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	writeFile(t, path, "old line one\nold line two\n")

	tl, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()
	if _, err := tl.ReadBacklog(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "new\n")
	lines, err := tl.readAvailable()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "new" {
		t.Errorf("expected line from rotated file, got %q", lines)
	}
	if tl.Offset() != 4 {
		t.Errorf("expected offset 4 after rotation, got %d", tl.Offset())
	}
}

func TestRenameRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Game.log")
	writeFile(t, path, "a long line from the previous session\n")

	tl, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()
	tl.ReadBacklog()

	if err := os.Rename(path, filepath.Join(dir, "Game-backup.log")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "fresh\n")

	lines, err := tl.readAvailable()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Errorf("expected line from new file, got %q", lines)
	}
}

func TestFollowDeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	writeFile(t, path, "backlog\n")

	tl, err := Open(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()
	tl.ReadBacklog()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		tl.Follow(ctx, nil, func(line string) {
			mu.Lock()
			got = append(got, line)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
		})
		close(done)
	}()

	appendFile(t, path, "live one\nlive two\n")
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "live one" || got[1] != "live two" {
		t.Errorf("unexpected lines %q", got)
	}
}

func TestFollowGateHoldsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	writeFile(t, path, "held\n")

	tl, err := Open(path, WithPollInterval(10*time.Millisecond), WithGateWait(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	var open atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lines := make(chan string, 1)
	go tl.Follow(ctx, open.Load, func(line string) {
		lines <- line
		cancel()
	})

	time.Sleep(50 * time.Millisecond)
	if tl.Offset() != 0 {
		t.Fatalf("expected no bytes consumed while gate closed, offset %d", tl.Offset())
	}
	open.Store(true)

	select {
	case line := <-lines:
		if line != "held" {
			t.Errorf("expected held line, got %q", line)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("line not delivered after gate opened")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Fatal("expected error opening missing file")
	}
}
