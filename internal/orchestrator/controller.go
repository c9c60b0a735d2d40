// Package orchestrator runs episodes. The Controller drives one episode
// timestep by timestep; the Service starts episodes and answers queries
// about them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wildfire_crew/internal/agent"
	"wildfire_crew/internal/consensus"
	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/env"
	"wildfire_crew/internal/oracle"
	"wildfire_crew/internal/policy"
	"wildfire_crew/internal/scenario"
)

const (
	controllerActor = "round_controller"
	tracerName      = "wildfire_crew/orchestrator"
)

type Store interface {
	CreateEpisode(ctx context.Context, ep domain.Episode) error
	UpdateEpisodeProgress(ctx context.Context, episodeID string, steps, score int) error
	FinishEpisode(ctx context.Context, episodeID string, status domain.EpisodeStatus, lastError string) error
	AppendTelemetry(ctx context.Context, row domain.TelemetryRow) error
	SaveMessages(ctx context.Context, episodeID string, msgs []domain.Message) error
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

type Bus interface {
	Register(id domain.AgentID) <-chan domain.Message
	Unregister(id domain.AgentID)
	Publish(msg domain.Message) error
	Drain(id domain.AgentID) []domain.Message
}

type Metrics interface {
	ObserveRecovered(kind string)
	ObserveDroppedCommands(n int)
	ObserveTimestep(score, live int)
	ObserveEpisode(status domain.EpisodeStatus, steps int)
}

// UsageSource reports cumulative oracle usage of the process.
type UsageSource interface {
	Usage() domain.Usage
}

type Config struct {
	MaxSteps          int
	StepHistoryWindow int
	MessageLogCap     int
	MessageMaxAge     int
	HistoryCap        int
	Concurrency       int
	Perception        bool
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 200
	}
	if c.StepHistoryWindow <= 0 {
		c.StepHistoryWindow = DefaultStepHistoryWindow
	}
	if c.MessageLogCap <= 0 {
		c.MessageLogCap = agent.DefaultMessageLogCap
	}
	if c.MessageMaxAge <= 0 {
		c.MessageMaxAge = 1
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = agent.DefaultHistoryCap
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Deps are the collaborators of one episode. Env, Oracle and Planner are
// required.
type Deps struct {
	Env      env.Environment
	Oracle   oracle.Oracle
	Planner  consensus.Planner
	Store    Store
	Bus      Bus
	Recorder consensus.Recorder
	Metrics  Metrics
	Usage    UsageSource
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

// Result summarises a finished episode.
type Result struct {
	EpisodeID string               `json:"episode_id"`
	Status    domain.EpisodeStatus `json:"status"`
	Steps     int                  `json:"steps"`
	Score     int                  `json:"score"`
	Usage     domain.Usage         `json:"usage"`
	Reason    string               `json:"reason,omitempty"`
}

type Controller struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

func NewController(deps Deps, cfg Config) (*Controller, error) {
	if deps.Env == nil || deps.Oracle == nil || deps.Planner == nil {
		return nil, errors.New("controller needs an environment, an oracle and a planner")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Controller{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "round_controller")),
		tracer: tracer,
	}, nil
}

// Run plays ep to termination. Recoverable failures inside a timestep are
// logged and replaced by idle actions; only environment failures and
// cancellation end the episode early.
func (c *Controller) Run(ctx context.Context, ep domain.Episode, settings scenario.Settings) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "episode")
	defer span.End()
	span.SetAttributes(
		attribute.String("episode_id", ep.ID),
		attribute.String("level", settings.Level),
		attribute.String("mode", ep.Mode),
	)

	res := Result{EpisodeID: ep.ID, Status: domain.EpisodeStatusFailed}
	logger := c.logger.With(zap.String("episode", ep.ID))
	state := newRoundState(ep.ID, c.cfg.StepHistoryWindow)
	defer c.release(state)

	var baseline domain.Usage
	if c.deps.Usage != nil {
		baseline = c.deps.Usage.Usage()
	}

	frame, err := c.deps.Env.Reset(ctx, settings)
	if err != nil {
		if ctx.Err() != nil {
			res.Status = domain.EpisodeStatusCanceled
		}
		return c.finish(ctx, span, res, state, fmt.Errorf("reset environment: %w", err))
	}
	if err := c.spawn(state, frame, settings.MapSize); err != nil {
		return c.finish(ctx, span, res, state, err)
	}
	state.MapSize = settings.MapSize
	engine := policy.New(settings)
	logger.Info("episode started", zap.String("level", settings.Level), zap.Int("agents", len(state.Agents)))

	for t := 0; ; t++ {
		state.Timestep = t
		if err := ctx.Err(); err != nil {
			res.Status = domain.EpisodeStatusCanceled
			return c.finish(ctx, span, res, state, err)
		}

		gameVector, err := frame.GameVector()
		if err != nil {
			return c.finish(ctx, span, res, state, err)
		}
		gd, err := scenario.ParseGameData(gameVector, settings)
		if err != nil {
			return c.finish(ctx, span, res, state, fmt.Errorf("parse game data: %w", err))
		}
		state.Score = gd.Score
		state.Task = gd.Task
		if gd.MapSize > 0 {
			state.MapSize = gd.MapSize
		}
		state.Usage = c.usageSince(baseline, state.Usage)
		c.telemetry(ctx, state)

		if done, reason := engine.Done(state.Score); done {
			res.Status = domain.EpisodeStatusDone
			res.Reason = reason
			return c.finish(ctx, span, res, state, nil)
		}
		if t >= c.cfg.MaxSteps {
			res.Status = domain.EpisodeStatusExhausted
			res.Reason = fmt.Sprintf("step limit %d reached", c.cfg.MaxSteps)
			return c.finish(ctx, span, res, state, nil)
		}

		joint, err := c.timestep(ctx, state, frame)
		if err != nil {
			if ctx.Err() != nil {
				res.Status = domain.EpisodeStatusCanceled
			}
			return c.finish(ctx, span, res, state, err)
		}
		if len(state.Agents) == 0 {
			res.Reason = "every agent was destroyed"
			return c.finish(ctx, span, res, state, errors.New(res.Reason))
		}

		frame, err = c.deps.Env.Step(ctx, joint)
		if err != nil {
			if ctx.Err() != nil {
				res.Status = domain.EpisodeStatusCanceled
			}
			return c.finish(ctx, span, res, state, fmt.Errorf("step environment: %w", err))
		}
		if c.deps.Store != nil {
			if err := c.deps.Store.UpdateEpisodeProgress(ctx, ep.ID, t+1, state.Score); err != nil {
				logger.Warn("update episode progress failed", zap.Error(err))
			}
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.ObserveTimestep(state.Score, len(state.Agents))
		}
	}
}

// spawn creates one agent per live slot of the first frame.
func (c *Controller) spawn(state *RoundState, frame env.Frame, mapSize int) error {
	for slot := 1; slot < frame.Slots(); slot++ {
		id := domain.AgentID(slot)
		obs, err := frame.Observation(id)
		if err != nil {
			c.logger.Warn("skip undecodable slot", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		if obs.Destroyed() {
			continue
		}
		role, ok := domain.ParseRole(obs.TypeCode)
		if !ok {
			continue
		}
		a, err := agent.New(id, role, agent.Config{
			MapSize:       mapSize,
			HistoryCap:    c.cfg.HistoryCap,
			MessageLogCap: c.cfg.MessageLogCap,
			Logger:        c.logger,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", id.Tag(), err)
		}
		a.Observe(obs)
		state.Agents[id] = a
		if c.deps.Bus != nil {
			c.deps.Bus.Register(id)
		}
	}
	if len(state.Agents) == 0 {
		return errors.New("environment reported no live agents")
	}
	return nil
}

// timestep runs one round and returns the joint command to submit.
func (c *Controller) timestep(ctx context.Context, state *RoundState, frame env.Frame) ([][3]int, error) {
	ctx, span := c.tracer.Start(ctx, "timestep")
	defer span.End()
	span.SetAttributes(attribute.Int("timestep", state.Timestep), attribute.Int("score", state.Score))
	logger := c.logger.With(zap.String("episode", state.EpisodeID), zap.Int("timestep", state.Timestep))

	c.refresh(ctx, state, frame, logger)
	if len(state.Agents) == 0 {
		return nil, nil
	}
	state.History.Prune(state.Timestep)
	for _, a := range state.Agents {
		a.Messages.Prune(state.Timestep, c.cfg.MessageMaxAge)
	}

	if err := c.perceive(ctx, state, logger); err != nil {
		return nil, err
	}

	round := c.round(state)
	plan, err := c.deps.Planner.Plan(ctx, round)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("consensus: %w", err)
	}
	c.commitPlan(ctx, state, plan, logger)

	if err := c.assign(ctx, state, plan, logger); err != nil {
		return nil, err
	}

	commands := make(map[domain.AgentID]domain.Command, len(state.Agents))
	for _, id := range state.IDs() {
		a := state.Agents[id]
		cmd, err := a.Step()
		if err != nil {
			c.recovered(ctx, state, "decomposition", id, err, logger)
		}
		commands[id] = cmd
		current := "do nothing"
		if opt, ok := a.Current(); ok {
			current = opt.Description
		} else if hist := a.History(); len(hist) > 0 {
			current = hist[len(hist)-1].Description
		}
		state.History.Record(state.Timestep, id, domain.StepRecord{State: a.Position, Action: current})
		c.record(consensus.ChatName(id), "Executing Actions",
			oracle.Turn{Role: oracle.TurnAssistant, Content: fmt.Sprintf("%s -> command %v", current, cmd.Triple())})
	}

	joint, dropped := env.JointCommand(frame.Slots(), commands)
	for _, derr := range dropped {
		logger.Warn("command dropped", zap.Error(derr))
		c.decision(ctx, state, controllerActor, "command_dropped", derr.Error(), nil)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveDroppedCommands(len(dropped))
	}
	return joint, nil
}

// refresh updates every agent from the frame and removes destroyed ones.
func (c *Controller) refresh(ctx context.Context, state *RoundState, frame env.Frame, logger *zap.Logger) {
	for _, id := range state.IDs() {
		obs, err := frame.Observation(id)
		if err == nil && !obs.Destroyed() {
			state.Agents[id].Observe(obs)
			continue
		}
		reason := "destroyed"
		if err != nil {
			reason = err.Error()
		}
		logger.Info("agent removed", zap.Int("agent", int(id)), zap.String("reason", reason))
		c.decision(ctx, state, controllerActor, "agent_removed", reason, map[string]any{"agent": id.Tag()})
		state.remove(id)
		if c.deps.Bus != nil {
			c.deps.Bus.Unregister(id)
		}
	}
}

// perceive fills every agent's perception, concurrently across agents.
func (c *Controller) perceive(ctx context.Context, state *RoundState, logger *zap.Logger) error {
	positions := state.Positions()
	ids := state.IDs()
	texts := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range ids {
		a := state.Agents[id]
		raw := a.ObservationText(positions)
		if !c.cfg.Perception || a.InTransport() {
			texts[i] = raw
			continue
		}
		system, user := a.PerceptionPrompt(positions)
		g.Go(func() error {
			resp, err := c.deps.Oracle.Complete(gctx, oracle.Request{
				Purpose: oracle.PurposePerception,
				Agent:   id,
				System:  system,
				Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: user}},
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("perception failed, using raw observation", zap.Int("agent", int(id)), zap.Error(err))
				texts[i] = raw
				return nil
			}
			texts[i] = strings.TrimSpace(resp.Text)
			c.record(consensus.ChatName(id), "Perception",
				oracle.Turn{Role: oracle.TurnUser, Content: user},
				oracle.Turn{Role: oracle.TurnAssistant, Content: resp.Text})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		state.Agents[id].Perception = texts[i]
	}
	return nil
}

// round builds the planner's view, delivering pending mailbox messages first.
func (c *Controller) round(state *RoundState) consensus.Round {
	r := consensus.Round{
		Timestep:    state.Timestep,
		Task:        state.Task,
		MapSize:     state.MapSize,
		StepHistory: state.History.String(),
	}
	for _, id := range state.IDs() {
		a := state.Agents[id]
		if c.deps.Bus != nil {
			for _, msg := range c.deps.Bus.Drain(id) {
				a.Receive(msg)
			}
		}
		m := consensus.Member{
			ID:          id,
			Role:        a.Role,
			Position:    a.Position,
			Perception:  a.Perception,
			InTransport: a.InTransport(),
			Chat:        a.Messages.Transcript(),
		}
		if opt, ok := a.Current(); ok {
			m.Current = opt.Description
		} else {
			m.Idle = true
		}
		for _, opt := range a.History() {
			m.Past = append(m.Past, opt.Description)
		}
		r.Members = append(r.Members, m)
	}
	return r
}

func (c *Controller) commitPlan(ctx context.Context, state *RoundState, plan consensus.Plan, logger *zap.Logger) {
	action := "plan_committed"
	reason := fmt.Sprintf("%s mode, %d rounds", plan.Mode, plan.Rounds)
	if plan.Fallback != "" {
		action = "plan_fallback"
		reason = fmt.Sprintf("%s after %d rounds", plan.Fallback, plan.Rounds)
	}
	payload := map[string]any{"intents": plan.Intents, "leader": int(plan.Leader), "accepted": plan.Accepted}
	if len(plan.Abstained) > 0 {
		abstained := make([]int, len(plan.Abstained))
		for i, id := range plan.Abstained {
			abstained[i] = int(id)
		}
		payload["abstained"] = abstained
		reason += fmt.Sprintf(", %d abstained", len(abstained))
	}
	c.decision(ctx, state, "consensus", action, reason, payload)

	for _, msg := range plan.Messages {
		if c.deps.Bus == nil {
			if a, ok := state.Agents[msg.To]; ok {
				a.Receive(msg)
			}
			continue
		}
		if err := c.deps.Bus.Publish(msg); err != nil {
			logger.Warn("message not delivered", zap.Int("to", int(msg.To)), zap.Error(err))
		}
	}
	if c.deps.Store != nil && len(plan.Messages) > 0 {
		if err := c.deps.Store.SaveMessages(ctx, state.EpisodeID, plan.Messages); err != nil {
			logger.Warn("save messages failed", zap.Error(err))
		}
	}
}

// assign translates every intent and hands the options to the agents.
// Translation failures become idle options; the round goes on.
func (c *Controller) assign(ctx context.Context, state *RoundState, plan consensus.Plan, logger *zap.Logger) error {
	type job struct {
		id     domain.AgentID
		intent string
		opt    domain.Option
		err    error
	}
	var jobs []*job
	for _, id := range state.IDs() {
		if opt, ok := plan.Fixed[id]; ok {
			state.Agents[id].Assign(opt)
			continue
		}
		if intent, ok := plan.Intents[id]; ok {
			jobs = append(jobs, &job{id: id, intent: intent})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, j := range jobs {
		capability := state.Agents[j.id].Capability()
		g.Go(func() error {
			j.opt, j.err = translate(gctx, c.deps.Oracle, j.id, capability, j.intent)
			if j.err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, j := range jobs {
		if j.err != nil {
			kind := "oracle"
			var perr *domain.OracleParseError
			switch {
			case errors.As(j.err, &perr):
				kind = "parse"
			case errors.Is(j.err, domain.ErrOracleTimeout), errors.Is(j.err, context.DeadlineExceeded):
				kind = "timeout"
			}
			c.recovered(ctx, state, kind, j.id, j.err, logger)
		}
		state.Agents[j.id].Assign(j.opt)
	}
	return nil
}

func (c *Controller) recovered(ctx context.Context, state *RoundState, kind string, id domain.AgentID, err error, logger *zap.Logger) {
	logger.Warn("recovered failure", zap.String("kind", kind), zap.Int("agent", int(id)), zap.Error(err))
	c.decision(ctx, state, id.Tag(), kind+"_failed", err.Error(), nil)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveRecovered(kind)
	}
}

func (c *Controller) telemetry(ctx context.Context, state *RoundState) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.AppendTelemetry(ctx, domain.TelemetryRow{
		EpisodeID:    state.EpisodeID,
		Timestep:     state.Timestep,
		Score:        state.Score,
		APICalls:     state.Usage.Calls,
		InputTokens:  state.Usage.InputTokens,
		OutputTokens: state.Usage.OutputTokens,
	}); err != nil {
		c.logger.Warn("append telemetry failed", zap.String("episode", state.EpisodeID), zap.Error(err))
	}
}

func (c *Controller) usageSince(baseline, fallback domain.Usage) domain.Usage {
	if c.deps.Usage == nil {
		return fallback
	}
	now := c.deps.Usage.Usage()
	return domain.Usage{
		Calls:        now.Calls - baseline.Calls,
		InputTokens:  now.InputTokens - baseline.InputTokens,
		OutputTokens: now.OutputTokens - baseline.OutputTokens,
	}
}

func (c *Controller) decision(ctx context.Context, state *RoundState, actor, action, reason string, payload any) {
	if c.deps.Store == nil {
		return
	}
	entry := domain.DecisionLog{
		EpisodeID: state.EpisodeID,
		Timestep:  state.Timestep,
		Actor:     actor,
		Action:    action,
		Reason:    trimText(reason, 500),
	}
	if payload != nil {
		entry.Payload = mustJSON(payload)
	}
	if err := c.deps.Store.LogDecision(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("log decision failed", zap.String("action", action), zap.Error(err))
	}
}

func (c *Controller) record(name, title string, turns ...oracle.Turn) {
	if c.deps.Recorder != nil {
		c.deps.Recorder.Record(name, title, turns)
	}
}

// finish stores the outcome. A nil cause keeps res.Status; otherwise the
// status stays as set by the caller and the cause becomes the last error.
func (c *Controller) finish(ctx context.Context, span trace.Span, res Result, state *RoundState, cause error) (Result, error) {
	res.Steps = state.Timestep
	res.Score = state.Score
	res.Usage = state.Usage
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
		if res.Reason == "" {
			res.Reason = lastError
		}
		span.SetStatus(codes.Error, lastError)
	}
	span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("score", res.Score))

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	c.decision(storeCtx, state, controllerActor, "episode_finished", res.Reason, map[string]any{
		"status": res.Status,
		"steps":  res.Steps,
		"score":  res.Score,
	})
	if c.deps.Store != nil {
		if err := c.deps.Store.UpdateEpisodeProgress(storeCtx, res.EpisodeID, res.Steps, res.Score); err != nil {
			c.logger.Warn("update episode progress failed", zap.Error(err))
		}
		if err := c.deps.Store.FinishEpisode(storeCtx, res.EpisodeID, res.Status, lastError); err != nil {
			c.logger.Warn("finish episode failed", zap.Error(err))
		}
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveEpisode(res.Status, res.Steps)
	}
	c.logger.Info("episode finished",
		zap.String("episode", res.EpisodeID),
		zap.String("status", string(res.Status)),
		zap.Int("steps", res.Steps),
		zap.Int("score", res.Score),
		zap.String("reason", res.Reason),
	)
	if res.Status == domain.EpisodeStatusDone || res.Status == domain.EpisodeStatusExhausted {
		return res, nil
	}
	return res, cause
}

func (c *Controller) release(state *RoundState) {
	for _, id := range state.IDs() {
		state.remove(id)
		if c.deps.Bus != nil {
			c.deps.Bus.Unregister(id)
		}
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

func trimText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
