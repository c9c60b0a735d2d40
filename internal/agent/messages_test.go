package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"wildfire_crew/internal/domain"
)

func TestMessageLogNeverExceedsCap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		log := NewMessageLog(DefaultMessageLogCap)
		for i := 0; i < n; i++ {
			log.Add(domain.Message{Content: fmt.Sprint(i), Timestep: i})
			if log.Len() > DefaultMessageLogCap {
				t.Fatalf("len=%d after %d inserts", log.Len(), i+1)
			}
		}
		entries := log.Entries()
		if n > DefaultMessageLogCap && entries[0].Content != fmt.Sprint(n-DefaultMessageLogCap) {
			t.Fatalf("oldest kept=%s want %d", entries[0].Content, n-DefaultMessageLogCap)
		}
		if n > 0 && entries[len(entries)-1].Content != fmt.Sprint(n-1) {
			t.Fatalf("newest=%s", entries[len(entries)-1].Content)
		}
	})
}

func TestMessageLogPruneByAge(t *testing.T) {
	log := NewMessageLog(10)
	log.Add(domain.Message{From: "AGENT_2", Content: "old", Timestep: 1})
	log.Add(domain.Message{From: "AGENT_2", Content: "fresh", Timestep: 4})

	removed := log.Prune(5, 1)
	assert.Equal(t, 1, removed)
	entries := log.Entries()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "fresh", entries[0].Content)
	}
	assert.Contains(t, log.Transcript(), "TIME 4: AGENT_2")
}
