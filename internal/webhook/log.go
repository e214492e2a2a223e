package webhook

import (
	"sync"
	"time"
)

// DefaultLogCapacity is the number of deliveries kept for inspection.
const DefaultLogCapacity = 20

// LogEntry records one delivery attempt. Status is zero when the request
// never got a response; Error then says why.
type LogEntry struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Payload    Envelope  `json:"payload"`
	Status     int       `json:"status,omitempty"`
	StatusText string    `json:"statusText,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
}

// Log is a process-wide bounded delivery log. Once full, the oldest entry
// is dropped for each new one.
type Log struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
}

// NewLog creates a log holding up to capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{capacity: capacity}
}

// Add prepends e.
func (l *Log) Add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, LogEntry{})
	}
	copy(l.entries[1:], l.entries[:len(l.entries)-1])
	l.entries[0] = e
}

// Entries returns a copy, newest first.
func (l *Log) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
