package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, Holder{SocketPath: "/run/wpphubd.sock"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "socket=/run/wpphubd.sock") {
		t.Errorf("lock file = %q, want socket line", data)
	}
	if l.Holder().PID != os.Getpid() {
		t.Errorf("Holder().PID = %d, want %d", l.Holder().PID, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on release, stat err = %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	h := parseHolder("pid=4242\nsocket=/tmp/d.sock\nmetrics=127.0.0.1:9477\nstarted=2026-01-01T00:00:00Z\n")
	if h.PID != 4242 || h.SocketPath != "/tmp/d.sock" || h.MetricsAddr != "127.0.0.1:9477" {
		t.Errorf("parseHolder = %+v", h)
	}
	if !h.Started.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Started = %v", h.Started)
	}
	if got := parseHolder("garbage"); got.PID != 0 || got.SocketPath != "" || !got.Started.IsZero() {
		t.Errorf("parseHolder(garbage) = %+v, want zero", got)
	}
}

func TestDoubleAcquireNamesRunningDaemon(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, Holder{SocketPath: "/tmp/first.sock", MetricsAddr: "127.0.0.1:9477"})
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, Holder{SocketPath: "/tmp/second.sock"})
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("Holder.PID = %d, want %d", lockErr.Holder.PID, os.Getpid())
	}
	if lockErr.Holder.SocketPath != "/tmp/first.sock" {
		t.Errorf("Holder.SocketPath = %q, want the running daemon's socket", lockErr.Holder.SocketPath)
	}
	if !strings.Contains(err.Error(), "/tmp/first.sock") {
		t.Errorf("error %q should name the running daemon's socket", err)
	}
}

func TestInspect(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Inspect(tmpDir); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Inspect() without lock file = %v, want ErrNotHeld", err)
	}

	l, err := Acquire(tmpDir, Holder{SocketPath: "/tmp/live.sock"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := Inspect(tmpDir)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if h.SocketPath != "/tmp/live.sock" || h.PID != os.Getpid() {
		t.Errorf("Inspect() = %+v", h)
	}
	_ = l.Release()
}

func TestInspectIgnoresStaleFile(t *testing.T) {
	tmpDir := t.TempDir()
	stale := "pid=99999\nsocket=/tmp/dead.sock\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "LOCK"), []byte(stale), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(tmpDir); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Inspect() on stale file = %v, want ErrNotHeld", err)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, Holder{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
