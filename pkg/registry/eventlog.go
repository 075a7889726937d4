package registry

import (
	"sync"
	"time"
)

// DefaultLogCapacity is the number of transitions kept by NewEventLog(0).
const DefaultLogCapacity = 50

// LogEntry is one recorded UP/DOWN transition.
type LogEntry struct {
	Node   string    `json:"node"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// String renders the entry as "<node>: <UP|DOWN>".
func (e LogEntry) String() string {
	return e.Node + ": " + e.Status.String()
}

// EventLog is a bounded FIFO of liveness transitions. Appending past
// capacity evicts the oldest entry.
type EventLog struct {
	mu      sync.RWMutex
	entries []LogEntry // ring buffer
	head    int
	size    int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog{entries: make([]LogEntry, capacity)}
}

func (l *EventLog) Append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := len(l.entries)
	l.entries[(l.head+l.size)%c] = e
	if l.size < c {
		l.size++
		return
	}
	l.head = (l.head + 1) % c
}

// Snapshot returns the entries oldest first.
func (l *EventLog) Snapshot() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LogEntry, l.size)
	for i := range out {
		out[i] = l.entries[(l.head+i)%len(l.entries)]
	}
	return out
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *EventLog) Cap() int {
	return len(l.entries)
}
