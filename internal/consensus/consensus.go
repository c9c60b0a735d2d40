// Package consensus reconciles per-agent intents into one committed joint
// plan per timestep. Two planners are provided: Central runs a
// propose/feedback/revise loop driven by a single planner, Leader rotates a
// leader that plans, reviews teammate proposals and overrides intents.
package consensus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/oracle"
)

const (
	ModeCentral = "central"
	ModeLeader  = "leader"

	FallbackCommitLast = "commit_last"
	FallbackIdle       = "idle"

	tracerName = "wildfire_crew/consensus"
)

// Member is the read-only view of one live agent a planner works from.
type Member struct {
	ID          domain.AgentID
	Role        domain.Role
	Position    domain.Position
	Perception  string
	InTransport bool
	// Idle is true when the agent has no option queued.
	Idle    bool
	Current string
	Past    []string
	Chat    string
}

// Round is everything a planner needs for one timestep.
type Round struct {
	Timestep    int
	Task        string
	MapSize     int
	StepHistory string
	Members     []Member
}

func (r Round) member(id domain.AgentID) (Member, bool) {
	for _, m := range r.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Plan is the committed outcome of one timestep. Intents are free text still
// to be translated; Fixed options bypass translation. Abstained lists the
// members whose feedback call failed in the last proposal round.
type Plan struct {
	Mode       string
	Intents    map[domain.AgentID]string
	Fixed      map[domain.AgentID]domain.Option
	Messages   []domain.Message
	Rounds     int
	Accepted   bool
	Fallback   string
	Leader     domain.AgentID
	Abstained  []domain.AgentID
	Transcript []oracle.Turn
}

func newPlan(mode string) Plan {
	return Plan{
		Mode:    mode,
		Intents: make(map[domain.AgentID]string),
		Fixed:   make(map[domain.AgentID]domain.Option),
	}
}

type Planner interface {
	Plan(ctx context.Context, round Round) (Plan, error)
}

// Recorder receives every oracle exchange for the episode chat logs. name is
// "central_agent" or "agent-<id>".
type Recorder interface {
	Record(name, title string, turns []oracle.Turn)
}

// Observer is notified once per committed plan.
type Observer interface {
	ObserveConsensus(mode string, rounds int, accepted bool, fallback string)
}

// Options carries the collaborators shared by both planners.
type Options struct {
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Recorder Recorder
	Observer Observer
}

func (o Options) withDefaults(component string) Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.Logger = o.Logger.With(zap.String("component", component))
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}

func (o Options) record(name, title string, turns ...oracle.Turn) {
	if o.Recorder != nil {
		o.Recorder.Record(name, title, turns)
	}
}

func (o Options) observe(p Plan) {
	if o.Observer != nil {
		o.Observer.ObserveConsensus(p.Mode, p.Rounds, p.Accepted, p.Fallback)
	}
}

// ChatName is the chat log name of an agent.
func ChatName(id domain.AgentID) string {
	return fmt.Sprintf("agent-%d", int(id))
}

const CentralChatName = "central_agent"

func leaderMessage(from, to domain.AgentID, content string, timestep int) domain.Message {
	return domain.Message{
		From:      from.Tag(),
		To:        to,
		Content:   oracle.Unquote(content),
		Timestep:  timestep,
		CreatedAt: time.Now().UTC(),
	}
}
