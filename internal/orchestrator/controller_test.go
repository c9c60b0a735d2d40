package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildfire_crew/internal/consensus"
	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/env"
	"wildfire_crew/internal/messaging/inproc"
	"wildfire_crew/internal/oracle"
	"wildfire_crew/internal/scenario"
)

type memoryStore struct {
	mu        sync.Mutex
	episodes  map[string]domain.Episode
	telemetry []domain.TelemetryRow
	decisions []domain.DecisionLog
	messages  []domain.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{episodes: make(map[string]domain.Episode)}
}

func (s *memoryStore) CreateEpisode(_ context.Context, ep domain.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.ID] = ep
	return nil
}

func (s *memoryStore) UpdateEpisodeProgress(_ context.Context, id string, steps, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episodes[id]
	ep.Steps, ep.Score = steps, score
	s.episodes[id] = ep
	return nil
}

func (s *memoryStore) FinishEpisode(_ context.Context, id string, status domain.EpisodeStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episodes[id]
	ep.Status, ep.LastError = status, lastError
	s.episodes[id] = ep
	return nil
}

func (s *memoryStore) AppendTelemetry(_ context.Context, row domain.TelemetryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(s.telemetry, row)
	return nil
}

func (s *memoryStore) SaveMessages(_ context.Context, _ string, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *memoryStore) LogDecision(_ context.Context, entry domain.DecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, entry)
	return nil
}

func (s *memoryStore) decision(actor, action string) (domain.DecisionLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		if d.Actor == actor && d.Action == action {
			return d, true
		}
	}
	return domain.DecisionLog{}, false
}

// recordingEnv wraps the loopback simulator and keeps every submitted joint
// command. destroyAfter marks a slot destroyed in frames returned by Step.
type recordingEnv struct {
	*env.Loopback
	mu           sync.Mutex
	reset        env.Frame
	joints       [][][3]int
	destroyAfter domain.AgentID
}

func (r *recordingEnv) Reset(ctx context.Context, s scenario.Settings) (env.Frame, error) {
	f, err := r.Loopback.Reset(ctx, s)
	r.mu.Lock()
	r.reset = f
	r.mu.Unlock()
	return f, err
}

func (r *recordingEnv) Step(ctx context.Context, joint [][3]int) (env.Frame, error) {
	r.mu.Lock()
	r.joints = append(r.joints, joint)
	r.mu.Unlock()
	f, err := r.Loopback.Step(ctx, joint)
	if err == nil && r.destroyAfter > 0 {
		f.Vectors[r.destroyAfter] = []float64{5, -1, 0, 0, 0, 0, 0}
	}
	return f, err
}

func containSettings() scenario.Settings {
	return scenario.Settings{
		Level:        "contain_test",
		GameType:     domain.GameContainFire,
		MapSize:      30,
		Seed:         3,
		Firefighters: 2,
		Drones:       1,
	}
}

const threeAgentProposal = "<AGENT_1>'move to (5, 5)'</AGENT_1>\n<AGENT_2>'move to (6, 6)'</AGENT_2>\n<AGENT_3>'fly to (7, 7)'</AGENT_3>"

// scriptedOracle accepts every proposal. Translation succeeds for agent 1,
// returns untagged text for agent 2 and hangs for agent 3.
func scriptedOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		switch req.Purpose {
		case oracle.PurposePropose:
			return oracle.Response{Text: threeAgentProposal}, nil
		case oracle.PurposeFeedback:
			return oracle.Response{Text: "<feedback>ACCEPT</feedback>"}, nil
		case oracle.PurposeTranslate:
			switch req.Agent {
			case 1:
				return oracle.Response{Text: "<type>1</type><param_1>5</param_1><param_2>5</param_2><description>'move to (5, 5)'</description>"}, nil
			case 2:
				return oracle.Response{Text: "I would rather walk north for a while."}, nil
			default:
				<-ctx.Done()
				return oracle.Response{}, ctx.Err()
			}
		}
		return oracle.Response{}, fmt.Errorf("unexpected purpose %q", req.Purpose)
	})
}

func newTestController(t *testing.T, e env.Environment, store *memoryStore, o oracle.Oracle, cfg Config) (*Controller, *oracle.Resilient) {
	t.Helper()
	resilient := oracle.NewResilient(o, oracle.Policy{Timeout: 100 * time.Millisecond}, nil, nil)
	planner := consensus.NewCentral(resilient, consensus.CentralConfig{}, consensus.Options{})
	c, err := NewController(Deps{
		Env:     e,
		Oracle:  resilient,
		Planner: planner,
		Store:   store,
		Bus:     inproc.New(8),
		Usage:   resilient,
	}, cfg)
	require.NoError(t, err)
	return c, resilient
}

func TestTranslationFailuresIdleOnlyTheFailingAgents(t *testing.T) {
	store := newMemoryStore()
	e := &recordingEnv{Loopback: env.NewLoopback(5)}
	c, _ := newTestController(t, e, store, scriptedOracle(), Config{MaxSteps: 1})

	ep := domain.Episode{ID: "ep-1", Level: "contain_test", Mode: consensus.ModeCentral}
	require.NoError(t, store.CreateEpisode(context.Background(), ep))
	res, err := c.Run(context.Background(), ep, containSettings())
	require.NoError(t, err)

	assert.Equal(t, domain.EpisodeStatusExhausted, res.Status)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, e.joints, 1)
	joint := e.joints[0]
	require.Len(t, joint, 5)

	assert.Equal(t, [3]int{0, 5, 5}, joint[1])
	for _, slot := range []domain.AgentID{2, 3} {
		obs, err := e.reset.Observation(slot)
		require.NoError(t, err)
		assert.Equal(t, [3]int{0, obs.Position.X, obs.Position.Y}, joint[slot], "slot %d should idle in place", slot)
	}
	assert.Equal(t, [3]int{0, 0, 0}, joint[4], "empty slot")

	parse, ok := store.decision("AGENT_2", "parse_failed")
	require.True(t, ok, "expected a parse failure for AGENT_2")
	assert.Contains(t, parse.Reason, "<type>")
	timeout, ok := store.decision("AGENT_3", "timeout_failed")
	require.True(t, ok, "expected a timeout for AGENT_3")
	assert.Contains(t, timeout.Reason, domain.ErrOracleTimeout.Error())

	require.Len(t, store.telemetry, 2)
	assert.Equal(t, int64(0), store.telemetry[0].APICalls)
	// one proposal, three feedbacks, two successful translations
	assert.Equal(t, int64(6), store.telemetry[1].APICalls)
	assert.Equal(t, domain.EpisodeStatusExhausted, store.episodes["ep-1"].Status)
}

func TestPlanCommittedRecordsAbstentions(t *testing.T) {
	store := newMemoryStore()
	e := &recordingEnv{Loopback: env.NewLoopback(5)}
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		switch req.Purpose {
		case oracle.PurposePropose:
			return oracle.Response{Text: threeAgentProposal}, nil
		case oracle.PurposeFeedback:
			if req.Agent == 2 {
				return oracle.Response{}, errors.New("upstream unavailable")
			}
			return oracle.Response{Text: "<feedback>ACCEPT</feedback>"}, nil
		default:
			return oracle.Response{Text: "<type>0</type><param_1>0</param_1><param_2>0</param_2><description>wait</description>"}, nil
		}
	})
	c, _ := newTestController(t, e, store, o, Config{MaxSteps: 1})

	ep := domain.Episode{ID: "ep-abstain", Level: "contain_test", Mode: consensus.ModeCentral}
	require.NoError(t, store.CreateEpisode(context.Background(), ep))
	_, err := c.Run(context.Background(), ep, containSettings())
	require.NoError(t, err)

	committed, ok := store.decision("consensus", "plan_committed")
	require.True(t, ok)
	assert.Contains(t, committed.Reason, "1 abstained")
	var payload struct {
		Accepted  bool  `json:"accepted"`
		Abstained []int `json:"abstained"`
	}
	require.NoError(t, json.Unmarshal(committed.Payload, &payload))
	assert.True(t, payload.Accepted)
	assert.Equal(t, []int{2}, payload.Abstained)
}

func TestRunStopsWhenThresholdReached(t *testing.T) {
	store := newMemoryStore()
	e := &recordingEnv{Loopback: env.NewLoopback(4)}
	calls := 0
	o := oracle.Func(func(context.Context, oracle.Request) (oracle.Response, error) {
		calls++
		return oracle.Response{}, errors.New("not expected")
	})
	c, _ := newTestController(t, e, store, o, Config{})

	settings := scenario.Settings{Level: "transport_none", GameType: domain.GameTransport, MapSize: 20, Helicopters: 1}
	res, err := c.Run(context.Background(), domain.Episode{ID: "ep-2", Mode: consensus.ModeCentral}, settings)
	require.NoError(t, err)

	assert.Equal(t, domain.EpisodeStatusDone, res.Status)
	assert.Zero(t, res.Steps)
	assert.Empty(t, e.joints)
	assert.Zero(t, calls)
	_, ok := store.decision(controllerActor, "episode_finished")
	assert.True(t, ok)
}

func TestDestroyedAgentLeavesRoster(t *testing.T) {
	store := newMemoryStore()
	e := &recordingEnv{Loopback: env.NewLoopback(5), destroyAfter: 2}
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		switch req.Purpose {
		case oracle.PurposePropose:
			return oracle.Response{Text: threeAgentProposal}, nil
		case oracle.PurposeFeedback:
			return oracle.Response{Text: "<feedback>ACCEPT</feedback>"}, nil
		default:
			return oracle.Response{Text: "<type>0</type><param_1>0</param_1><param_2>0</param_2><description>wait</description>"}, nil
		}
	})
	c, _ := newTestController(t, e, store, o, Config{MaxSteps: 2})

	res, err := c.Run(context.Background(), domain.Episode{ID: "ep-3", Mode: consensus.ModeCentral}, containSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)

	require.Len(t, e.joints, 2)
	assert.Equal(t, [3]int{0, 0, 0}, e.joints[1][2])
	removed, ok := store.decision(controllerActor, "agent_removed")
	require.True(t, ok)
	assert.Equal(t, 1, removed.Timestep)
	assert.True(t, strings.Contains(string(removed.Payload), "AGENT_2"))
}

func TestRunCanceled(t *testing.T) {
	store := newMemoryStore()
	e := &recordingEnv{Loopback: env.NewLoopback(5)}
	c, _ := newTestController(t, e, store, scriptedOracle(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Run(ctx, domain.Episode{ID: "ep-4"}, containSettings())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.EpisodeStatusCanceled, res.Status)
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := NewController(Deps{}, Config{})
	assert.Error(t, err)
}
