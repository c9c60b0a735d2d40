package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"wildfire_crew/internal/oracle"
)

func TestTranscriptDropsOldestExchange(t *testing.T) {
	tr := NewTranscript(8, 2)
	tr.Append(roleSystem, "system")
	tr.Append(oracle.TurnUser, "framing")
	for i := 1; i <= 4; i++ {
		tr.Append(oracle.TurnAssistant, fmt.Sprintf("proposal %d", i))
		tr.Append(oracle.TurnUser, fmt.Sprintf("feedback %d", i))
	}

	got := tr.Entries()
	require.Len(t, got, 8)
	assert.Equal(t, "system", got[0].Content)
	assert.Equal(t, "framing", got[1].Content)
	assert.Equal(t, "proposal 2", got[2].Content)
	assert.Equal(t, "feedback 4", got[7].Content)

	req := tr.Request(oracle.PurposePropose)
	assert.Equal(t, "system", req.System)
	assert.Len(t, req.Turns, 7)
	assert.Equal(t, "feedback 4", req.LastUser())
}

func TestTranscriptBoundedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		framing := rapid.IntRange(1, 3).Draw(t, "framing")
		capacity := rapid.IntRange(framing+2, 12).Draw(t, "cap")
		tr := NewTranscript(capacity, framing)
		for i := 0; i < framing; i++ {
			tr.Append(oracle.TurnUser, fmt.Sprintf("frame-%d", i))
		}
		rounds := rapid.IntRange(0, 40).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			tr.Append(oracle.TurnAssistant, fmt.Sprintf("proposal-%d", i))
			tr.Append(oracle.TurnUser, fmt.Sprintf("feedback-%d", i))

			entries := tr.Entries()
			if len(entries) > capacity {
				t.Fatalf("len=%d exceeds cap %d", len(entries), capacity)
			}
			for j := 0; j < framing; j++ {
				if entries[j].Content != fmt.Sprintf("frame-%d", j) {
					t.Fatalf("framing entry %d evicted: %q", j, entries[j].Content)
				}
			}
			if last := entries[len(entries)-1].Content; last != fmt.Sprintf("feedback-%d", i) {
				t.Fatalf("latest entry = %q", last)
			}
		}
	})
}
