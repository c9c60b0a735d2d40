package consensus

import (
	"sync"

	"wildfire_crew/internal/oracle"
)

const (
	DefaultTranscriptCap = 8
	DefaultFramingTurns  = 2

	roleSystem = "system"
)

// Transcript is the bounded negotiation history of one timestep. The first
// framing entries are never evicted; past them, whole proposal/feedback
// exchanges are dropped oldest first once the cap is exceeded.
type Transcript struct {
	mu      sync.Mutex
	cap     int
	framing int
	entries []oracle.Turn
}

func NewTranscript(capacity, framing int) *Transcript {
	if framing < 0 {
		framing = DefaultFramingTurns
	}
	if capacity < framing+2 {
		capacity = framing + 2
	}
	return &Transcript{cap: capacity, framing: framing}
}

func (t *Transcript) Append(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, oracle.Turn{Role: role, Content: content})
	for len(t.entries) > t.cap {
		drop := 2
		if rest := len(t.entries) - t.framing; rest < drop {
			drop = rest
		}
		t.entries = append(t.entries[:t.framing], t.entries[t.framing+drop:]...)
	}
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Transcript) Entries() []oracle.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]oracle.Turn, len(t.entries))
	copy(out, t.entries)
	return out
}

// Request splits the transcript into the oracle's system prompt and turns.
func (t *Transcript) Request(purpose string) oracle.Request {
	req := oracle.Request{Purpose: purpose}
	for _, e := range t.Entries() {
		if e.Role == roleSystem {
			req.System = e.Content
			continue
		}
		req.Turns = append(req.Turns, e)
	}
	return req
}
