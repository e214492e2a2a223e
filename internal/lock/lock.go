package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Holder describes the daemon that owns a data directory, as written into
// the lock file.
type Holder struct {
	PID         int
	SocketPath  string
	MetricsAddr string
	Started     time.Time
}

// LockHeldError is returned when another daemon already owns the data directory.
type LockHeldError struct {
	Path   string
	Holder Holder
}

func (e *LockHeldError) Error() string {
	msg := fmt.Sprintf("data dir lock %s held by wpphubd PID %d", e.Path, e.Holder.PID)
	if e.Holder.SocketPath != "" {
		msg += fmt.Sprintf(", control socket %s", e.Holder.SocketPath)
	}
	return msg
}

// Lock is an acquired data directory lock.
type Lock struct {
	file   *os.File
	path   string
	holder Holder
}

// Acquire takes an exclusive lock on dataDir and records the calling
// daemon's PID, control socket and metrics address in it. Only one daemon
// may own a credential store and control socket. Returns *LockHeldError if
// another process holds the lock.
func Acquire(dataDir string, owner Holder) (*Lock, error) {
	lockPath := filepath.Join(dataDir, fileName)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		data, _ := os.ReadFile(lockPath)
		return nil, &LockHeldError{Path: lockPath, Holder: parseHolder(string(data))}
	}

	owner.PID = os.Getpid()
	owner.Started = time.Now().UTC().Truncate(time.Second)
	if err := writeHolder(f, owner); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: lockPath, holder: owner}, nil
}

// Holder returns what this process recorded in the lock file.
func (l *Lock) Holder() Holder {
	return l.holder
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ErrNotHeld is returned by Inspect when no daemon owns the data directory.
var ErrNotHeld = errors.New("no daemon holds the data dir lock")

// Inspect reports the daemon currently holding dataDir's lock. A lock file
// left behind by a dead process is reported as ErrNotHeld.
func Inspect(dataDir string) (Holder, error) {
	lockPath := filepath.Join(dataDir, fileName)
	f, err := os.Open(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, ErrNotHeld
	}
	if err != nil {
		return Holder{}, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, ErrNotHeld
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}, fmt.Errorf("read lock file: %w", err)
	}
	return parseHolder(string(data)), nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", h.PID)
	if h.SocketPath != "" {
		fmt.Fprintf(&b, "socket=%s\n", h.SocketPath)
	}
	if h.MetricsAddr != "" {
		fmt.Fprintf(&b, "metrics=%s\n", h.MetricsAddr)
	}
	fmt.Fprintf(&b, "started=%s\n", h.Started.Format(time.RFC3339))
	_, err := f.WriteString(b.String())
	return err
}

func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "socket":
			h.SocketPath = value
		case "metrics":
			h.MetricsAddr = value
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}
