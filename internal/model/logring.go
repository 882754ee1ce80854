package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// LogRing is a bounded log buffer: appending past capacity evicts the
// oldest entries, so the bound is an invariant of the type.
type LogRing struct {
	capacity int
	entries  []LogEntry
}

const DefaultLogCapacity = 100

// NewLogRing creates a ring with the given capacity, seeded from existing
// entries (oldest dropped if over capacity).
func NewLogRing(capacity int, existing []LogEntry) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	r := &LogRing{capacity: capacity}
	if n := len(existing); n > capacity {
		existing = existing[n-capacity:]
	}
	r.entries = append(r.entries, existing...)
	return r
}

// Append adds an entry, evicting the oldest if full, and returns it.
func (r *LogRing) Append(level, message string) LogEntry {
	entry := LogEntry{
		ID:        newLogID(),
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	return entry
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *LogRing) Entries() []LogEntry {
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *LogRing) Len() int { return len(r.entries) }

func newLogID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("log-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
