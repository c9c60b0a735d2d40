package consensus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/oracle"
)

type scriptedCalls struct {
	mu    sync.Mutex
	calls []string
}

func (s *scriptedCalls) add(purpose string, agent domain.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, purpose+":"+agent.Tag())
}

func TestLeaderPlansReviewsAndRotates(t *testing.T) {
	calls := &scriptedCalls{}
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		calls.add(req.Purpose, req.Agent)
		switch req.Purpose {
		case oracle.PurposeLeaderPlan:
			return oracle.Response{Text: "<reasoning>r</reasoning><action>'move to (5, 5)'</action>"}, nil
		case oracle.PurposeProposal:
			return oracle.Response{Text: "<action>scout the north edge</action>"}, nil
		case oracle.PurposeReview:
			return oracle.Response{Text: `<decision>REJECT</decision>
<action>scout (15, 2)</action>
<message>Fire was reported at (15, 2).</message>
<AGENT_2-action>move to (7, 7)</AGENT_2-action>
<AGENT_2-message>Regroup with me.</AGENT_2-message>`}, nil
		}
		return oracle.Response{}, nil
	})
	l := NewLeader(o, Options{})

	round := Round{
		Timestep: 2,
		Task:     "Find the fire.",
		MapSize:  100,
		Members: []Member{
			{ID: 1, Role: domain.RoleFirefighter, Idle: true},
			{ID: 2, Role: domain.RoleBulldozer, Idle: false, Current: "cut along x=4"},
			{ID: 3, Role: domain.RoleDrone, Idle: true},
		},
	}
	plan, err := l.Plan(context.Background(), round)
	require.NoError(t, err)

	assert.Equal(t, []string{"leader_plan:AGENT_1", "proposal:AGENT_3", "review:AGENT_1"}, calls.calls)
	assert.Equal(t, "move to (5, 5)", plan.Intents[1])
	assert.Equal(t, "scout (15, 2)", plan.Intents[3])
	assert.Equal(t, "move to (7, 7)", plan.Intents[2])
	assert.Equal(t, 2, plan.Rounds)
	assert.Equal(t, domain.AgentID(3), plan.Leader)
	assert.Equal(t, domain.AgentID(3), l.Current())

	require.Len(t, plan.Messages, 2)
	assert.Equal(t, domain.AgentID(3), plan.Messages[0].To)
	assert.Equal(t, "AGENT_1", plan.Messages[0].From)
	assert.Equal(t, "Fire was reported at (15, 2).", plan.Messages[0].Content)
	assert.Equal(t, domain.AgentID(2), plan.Messages[1].To)
}

func TestLeaderOverrideNeedsActionAndMessage(t *testing.T) {
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		return oracle.Response{Text: "<action>idle</action><AGENT_2-action>move to (1, 1)</AGENT_2-action>"}, nil
	})
	l := NewLeader(o, Options{})
	plan, err := l.Plan(context.Background(), Round{Members: []Member{
		{ID: 1, Role: domain.RoleFirefighter, Idle: true},
		{ID: 2, Role: domain.RoleFirefighter, Idle: false},
	}})
	require.NoError(t, err)
	_, overridden := plan.Intents[2]
	assert.False(t, overridden)
	assert.Empty(t, plan.Messages)
}

func TestLeaderShortCircuitsInTransport(t *testing.T) {
	calls := &scriptedCalls{}
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		calls.add(req.Purpose, req.Agent)
		return oracle.Response{Text: "<action>move to (20, 20)</action>"}, nil
	})
	l := NewLeader(o, Options{})
	plan, err := l.Plan(context.Background(), Round{Members: []Member{
		{ID: 1, Role: domain.RoleFirefighter, Idle: true, InTransport: true},
		{ID: 2, Role: domain.RoleHelicopter, Idle: true},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"leader_plan:AGENT_2"}, calls.calls)
	assert.Equal(t, domain.IdleOption(RideHelicopter), plan.Fixed[1])
	assert.Equal(t, "move to (20, 20)", plan.Intents[2])
	assert.Equal(t, domain.AgentID(2), plan.Leader)
}

func TestLeaderSurvivesMalformedOutput(t *testing.T) {
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		switch req.Purpose {
		case oracle.PurposeProposal:
			return oracle.Response{Text: "<action>move to (2, 2)</action>"}, nil
		case oracle.PurposeReview:
			return oracle.Response{Text: "I agree with the plan."}, nil
		}
		return oracle.Response{Text: "no tags at all"}, nil
	})
	l := NewLeader(o, Options{})
	plan, err := l.Plan(context.Background(), Round{Members: []Member{
		{ID: 1, Role: domain.RoleFirefighter, Idle: true},
		{ID: 2, Role: domain.RoleFirefighter, Idle: true},
	}})
	require.NoError(t, err)

	_, leaderHasIntent := plan.Intents[1]
	assert.False(t, leaderHasIntent)
	assert.Equal(t, "move to (2, 2)", plan.Intents[2])
	assert.Equal(t, domain.AgentID(2), plan.Leader)
}

func TestLeaderReplacedWhenDestroyed(t *testing.T) {
	o := oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		return oracle.Response{Text: "<action>idle</action>"}, nil
	})
	l := NewLeader(o, Options{})
	_, err := l.Plan(context.Background(), Round{Members: []Member{{ID: 4, Role: domain.RoleDrone, Idle: false}}})
	require.NoError(t, err)
	require.Equal(t, domain.AgentID(4), l.Current())

	plan, err := l.Plan(context.Background(), Round{Members: []Member{{ID: 5, Role: domain.RoleDrone, Idle: true}}})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentID(5), plan.Leader)
	assert.Equal(t, "idle", plan.Intents[5])
}
