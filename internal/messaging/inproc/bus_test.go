package inproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildfire_crew/internal/domain"
)

func TestBusDeliversToRegisteredMailbox(t *testing.T) {
	b := New(4)
	b.Register(2)

	require.NoError(t, b.Publish(domain.Message{From: "AGENT_1", To: 2, Content: "hold the line", Timestep: 3}))
	require.NoError(t, b.Publish(domain.Message{From: "AGENT_1", To: 2, Content: "move east", Timestep: 3}))

	got := b.Drain(2)
	require.Len(t, got, 2)
	assert.Equal(t, "hold the line", got[0].Content)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.Empty(t, b.Drain(2))
}

func TestBusRejectsUnknownAndFull(t *testing.T) {
	b := New(1)
	assert.ErrorIs(t, b.Publish(domain.Message{To: 9}), ErrAgentNotRegistered)

	b.Register(1)
	require.NoError(t, b.Publish(domain.Message{To: 1}))
	assert.ErrorIs(t, b.Publish(domain.Message{To: 1}), ErrAgentQueueFull)

	b.Unregister(1)
	assert.Nil(t, b.Drain(1))
	assert.ErrorIs(t, b.Publish(domain.Message{To: 1}), ErrAgentNotRegistered)
}
