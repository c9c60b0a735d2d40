package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildfire_crew/internal/domain"
)

func TestParsePrompt(t *testing.T) {
	req, err := parsePrompt("Scout_Fire_small leader 42")
	require.NoError(t, err)
	assert.Equal(t, startRequest{Level: "Scout_Fire_small", Mode: "leader", Seed: 42}, req)

	req, err = parsePrompt("  Full_Game  ")
	require.NoError(t, err)
	assert.Equal(t, startRequest{Level: "Full_Game"}, req)

	_, err = parsePrompt("")
	assert.Error(t, err)
	_, err = parsePrompt("Full_Game vote")
	assert.Error(t, err)
}

func TestSparklineScalesToRange(t *testing.T) {
	assert.Equal(t, "▁▁▁", sparkline([]int{3, 3, 3}, 10))
	assert.Equal(t, "▁█", sparkline([]int{0, 7}, 10))
	assert.Equal(t, "▁█", sparkline([]int{9, 0, 7}, 2))
	assert.Empty(t, sparkline(nil, 10))
}

func TestRenderAgentsFoldsDecisionLog(t *testing.T) {
	plan := func(t int, intents map[string]string) domain.DecisionLog {
		raw, _ := json.Marshal(map[string]any{"intents": intents})
		return domain.DecisionLog{Timestep: t, Actor: "consensus", Action: "plan_committed", Payload: raw}
	}
	decisions := []domain.DecisionLog{
		plan(0, map[string]string{"1": "move to (2, 2)", "2": "cut tree at (4, 4)"}),
		plan(1, map[string]string{"1": "move to (3, 3)"}),
		{Timestep: 1, Actor: "AGENT_2", Action: "parse_failed", Reason: "missing <type>"},
		{Timestep: 2, Actor: "round_controller", Action: "agent_removed", Payload: json.RawMessage(`{"agent":"AGENT_2"}`)},
	}
	out := renderAgents(domain.Episode{ID: "episode-123456", Status: domain.EpisodeStatusRunning, Steps: 2}, decisions)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "episode-")
	assert.Contains(t, lines[1], "AGENT_1")
	assert.Contains(t, lines[1], "move to (3, 3)")
	assert.Contains(t, lines[2], "AGENT_2")
	assert.Contains(t, lines[2], "destroyed")
	assert.Contains(t, lines[3], "parse: missing <type>")
}

func TestRenderTelemetryShowsLastStepDelta(t *testing.T) {
	out := renderTelemetry([]domain.TelemetryRow{
		{Timestep: 0},
		{Timestep: 1, Score: 2, APICalls: 5, InputTokens: 100, OutputTokens: 20},
	})
	assert.Contains(t, out, "timestep=1 score=2")
	assert.Contains(t, out, "+5 calls, +120 tokens")
	assert.Equal(t, "No telemetry", renderTelemetry(nil))
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/episodes":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"an episode is already running"}`))
				return
			}
			_ = json.NewEncoder(w).Encode([]domain.Episode{{ID: "a"}, {ID: "b"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := &client{baseURL: srv.URL, http: newHTTPClient()}
	items, err := c.listEpisodes(10)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = c.startEpisode(startRequest{Level: "Full_Game"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	_, err = c.listTelemetry("a")
	assert.Error(t, err)
}
