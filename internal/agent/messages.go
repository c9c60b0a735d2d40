package agent

import (
	"fmt"
	"strings"
	"sync"

	"wildfire_crew/internal/domain"
)

const DefaultMessageLogCap = 30

// MessageLog is a bounded, concurrency safe log of messages received by one
// agent. Once the cap is exceeded the oldest entries are evicted.
type MessageLog struct {
	mu      sync.Mutex
	cap     int
	entries []domain.Message
}

func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultMessageLogCap
	}
	return &MessageLog{cap: capacity}
}

func (l *MessageLog) Add(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, msg)
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MessageLog) Cap() int {
	return l.cap
}

// Entries returns a copy in arrival order.
func (l *MessageLog) Entries() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Prune drops messages older than maxAge timesteps relative to now.
func (l *MessageLog) Prune(now, maxAge int) int {
	if maxAge <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	removed := 0
	for _, m := range l.entries {
		if now-m.Timestep > maxAge {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	l.entries = kept
	return removed
}

// Transcript renders the log for prompts.
func (l *MessageLog) Transcript() string {
	entries := l.Entries()
	var b strings.Builder
	for _, m := range entries {
		fmt.Fprintf(&b, "TIME %d: %s: \n%s\n\n", m.Timestep, m.From, m.Content)
	}
	return b.String()
}
