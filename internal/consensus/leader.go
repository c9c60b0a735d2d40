package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/oracle"
)

// RideHelicopter is the fixed intent of a firefighter in transport.
const RideHelicopter = "ride helicopter"

// Leader rotates a single leader across the team. The leader plans for
// itself when idle and reviews the proposal of every other idle agent;
// leadership passes to each reviewed proposer in turn.
type Leader struct {
	oracle oracle.Oracle
	opts   Options

	mu     sync.Mutex
	leader domain.AgentID
}

func NewLeader(o oracle.Oracle, opts Options) *Leader {
	return &Leader{oracle: o, opts: opts.withDefaults("consensus_leader")}
}

// Current returns the agent holding leadership, or 0 before the first round.
func (l *Leader) Current() domain.AgentID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

func (l *Leader) Plan(ctx context.Context, round Round) (Plan, error) {
	ctx, span := l.opts.Tracer.Start(ctx, "consensus.leader")
	defer span.End()
	span.SetAttributes(attribute.Int("timestep", round.Timestep))

	l.mu.Lock()
	defer l.mu.Unlock()

	plan := newPlan(ModeLeader)
	plan.Accepted = true
	if len(round.Members) == 0 {
		return plan, nil
	}

	for _, m := range round.Members {
		if m.InTransport {
			plan.Fixed[m.ID] = domain.IdleOption(RideHelicopter)
		}
	}

	leader, ok := round.member(l.leader)
	if !ok {
		leader = pickLeader(round.Members)
		if l.leader != 0 {
			l.opts.Logger.Info("leader left roster", zap.Int("previous", int(l.leader)), zap.Int("leader", int(leader.ID)))
		}
		l.leader = leader.ID
	}
	assigned := make(map[domain.AgentID]bool)

	if leader.Idle && !leader.InTransport {
		plan.Rounds++
		if err := l.leaderPlan(ctx, round, leader, &plan, assigned); err != nil {
			return Plan{}, err
		}
	}

	for _, m := range round.Members {
		if m.ID == leader.ID || !m.Idle || m.InTransport || assigned[m.ID] {
			continue
		}
		plan.Rounds++
		reviewed, err := l.proposeAndReview(ctx, round, leader, m, &plan, assigned)
		if err != nil {
			return Plan{}, err
		}
		if reviewed {
			l.opts.Logger.Info("leadership passed",
				zap.Int("timestep", round.Timestep), zap.Int("from", int(leader.ID)), zap.Int("to", int(m.ID)))
			leader = m
			l.leader = m.ID
		}
	}

	plan.Leader = l.leader
	span.SetAttributes(attribute.Int("rounds", plan.Rounds), attribute.Int("leader", int(plan.Leader)))
	l.opts.observe(plan)
	return plan, nil
}

func pickLeader(members []Member) Member {
	for _, m := range members {
		if !m.InTransport {
			return m
		}
	}
	return members[0]
}

func (l *Leader) leaderPlan(ctx context.Context, round Round, leader Member, plan *Plan, assigned map[domain.AgentID]bool) error {
	system, user := leaderPlanPrompts(round, leader, plan.Intents)
	resp, err := l.oracle.Complete(ctx, oracle.Request{
		Purpose: oracle.PurposeLeaderPlan,
		Agent:   leader.ID,
		System:  system,
		Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: user}},
	})
	if err != nil {
		return l.recoverable(ctx, round, leader.ID, "leader plan", err)
	}
	l.opts.record(ChatName(leader.ID), "Generating Plan",
		oracle.Turn{Role: oracle.TurnUser, Content: user},
		oracle.Turn{Role: oracle.TurnAssistant, Content: resp.Text})

	own, ok := oracle.Tag(resp.Text, "action")
	if !ok {
		return l.recoverable(ctx, round, leader.ID, "leader plan", &domain.OracleParseError{Field: "action", Raw: resp.Text})
	}
	plan.Intents[leader.ID] = oracle.Unquote(own)
	assigned[leader.ID] = true
	l.applyOverrides(round, leader.ID, leader.ID, resp.Text, plan, assigned)
	return nil
}

// proposeAndReview reports whether the leader reviewed m's proposal.
func (l *Leader) proposeAndReview(ctx context.Context, round Round, leader, m Member, plan *Plan, assigned map[domain.AgentID]bool) (bool, error) {
	system, user := proposalPrompts(round, m)
	resp, err := l.oracle.Complete(ctx, oracle.Request{
		Purpose: oracle.PurposeProposal,
		Agent:   m.ID,
		System:  system,
		Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: user}},
	})
	if err != nil {
		return false, l.recoverable(ctx, round, m.ID, "proposal", err)
	}
	l.opts.record(ChatName(m.ID), "Proposing an Action",
		oracle.Turn{Role: oracle.TurnUser, Content: user},
		oracle.Turn{Role: oracle.TurnAssistant, Content: resp.Text})
	proposed, ok := oracle.Tag(resp.Text, "action")
	if !ok {
		return false, l.recoverable(ctx, round, m.ID, "proposal", &domain.OracleParseError{Field: "action", Raw: resp.Text})
	}
	proposed = oracle.Unquote(proposed)

	system, user = reviewPrompts(round, leader, m, proposed, plan.Intents)
	review, err := l.oracle.Complete(ctx, oracle.Request{
		Purpose: oracle.PurposeReview,
		Agent:   leader.ID,
		System:  system,
		Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: user}},
	})
	if err != nil {
		return false, l.recoverable(ctx, round, m.ID, "review", err)
	}
	l.opts.record(ChatName(m.ID), "Review Proposal",
		oracle.Turn{Role: oracle.TurnUser, Content: user},
		oracle.Turn{Role: oracle.TurnAssistant, Content: review.Text})

	fields, err := oracle.Extract(review.Text, "decision", "action")
	if err != nil {
		// The leader said nothing usable; the proposer keeps its own intent.
		l.opts.Logger.Warn("review unparsable, keeping proposal",
			zap.Int("agent", int(m.ID)), zap.Int("timestep", round.Timestep), zap.Error(err))
		plan.Intents[m.ID] = proposed
		assigned[m.ID] = true
		return true, nil
	}
	decision := strings.ToUpper(oracle.Unquote(fields["decision"]))
	l.opts.Logger.Debug("proposal reviewed",
		zap.Int("agent", int(m.ID)), zap.Int("leader", int(leader.ID)), zap.String("decision", decision))
	plan.Intents[m.ID] = oracle.Unquote(fields["action"])
	assigned[m.ID] = true
	if msg, ok := oracle.Tag(review.Text, "message"); ok {
		plan.Messages = append(plan.Messages, leaderMessage(leader.ID, m.ID, msg, round.Timestep))
	}
	l.applyOverrides(round, leader.ID, m.ID, review.Text, plan, assigned)
	return true, nil
}

// applyOverrides reassigns teammates named with both an <AGENT_N-action> and
// an <AGENT_N-message> segment.
func (l *Leader) applyOverrides(round Round, leader, subject domain.AgentID, text string, plan *Plan, assigned map[domain.AgentID]bool) {
	for _, a := range round.Members {
		if a.ID == subject {
			continue
		}
		action, okAction := oracle.Tag(text, a.ID.Tag()+"-action")
		message, okMessage := oracle.Tag(text, a.ID.Tag()+"-message")
		if !okAction || !okMessage {
			continue
		}
		assigned[a.ID] = true
		if a.InTransport {
			plan.Fixed[a.ID] = domain.IdleOption(RideHelicopter)
			continue
		}
		plan.Intents[a.ID] = oracle.Unquote(action)
		plan.Messages = append(plan.Messages, leaderMessage(leader, a.ID, message, round.Timestep))
		l.opts.Logger.Debug("intent overridden",
			zap.Int("leader", int(leader)), zap.Int("agent", int(a.ID)), zap.Int("timestep", round.Timestep))
	}
}

// recoverable logs an oracle failure for one agent and lets the round go on.
// Only cancellation of ctx is returned.
func (l *Leader) recoverable(ctx context.Context, round Round, id domain.AgentID, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	level := l.opts.Logger.Warn
	var parseErr *domain.OracleParseError
	if errors.As(err, &parseErr) {
		level = l.opts.Logger.Info
	}
	level(fmt.Sprintf("%s failed", stage),
		zap.Int("agent", int(id)), zap.Int("timestep", round.Timestep), zap.Error(err))
	return nil
}
