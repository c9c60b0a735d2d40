package consensus

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/oracle"
)

const (
	DefaultMaxRounds   = 5
	DefaultAcceptToken = "ACCEPT"
)

type CentralConfig struct {
	MaxRounds          int
	Fallback           string
	TranscriptCap      int
	FramingTurns       int
	AcceptToken        string
	ConcurrentFeedback bool
}

func (c CentralConfig) withDefaults() CentralConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Fallback != FallbackIdle {
		c.Fallback = FallbackCommitLast
	}
	if c.TranscriptCap <= 0 {
		c.TranscriptCap = DefaultTranscriptCap
	}
	if c.FramingTurns <= 0 {
		c.FramingTurns = DefaultFramingTurns
	}
	if strings.TrimSpace(c.AcceptToken) == "" {
		c.AcceptToken = DefaultAcceptToken
	}
	return c
}

// Central asks one planner for every agent's intent, then every agent for
// feedback, revising until all accept or the round cap is hit.
type Central struct {
	oracle oracle.Oracle
	cfg    CentralConfig
	opts   Options
}

func NewCentral(o oracle.Oracle, cfg CentralConfig, opts Options) *Central {
	return &Central{
		oracle: o,
		cfg:    cfg.withDefaults(),
		opts:   opts.withDefaults("consensus_central"),
	}
}

func (c *Central) Plan(ctx context.Context, round Round) (Plan, error) {
	ctx, span := c.opts.Tracer.Start(ctx, "consensus.central")
	defer span.End()
	span.SetAttributes(
		attribute.Int("timestep", round.Timestep),
		attribute.Int("agents", len(round.Members)),
	)

	plan := newPlan(ModeCentral)
	if len(round.Members) == 0 {
		plan.Accepted = true
		return plan, nil
	}

	tr := NewTranscript(c.cfg.TranscriptCap, c.cfg.FramingTurns)
	tr.Append(roleSystem, centralSystem)
	tr.Append(oracle.TurnUser, proposalFraming(round))

	var last map[domain.AgentID]string
	for plan.Rounds < c.cfg.MaxRounds {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		plan.Rounds++
		title := "Proposing Action Plan"
		if plan.Rounds > 1 {
			title = "Revising Action Plan"
		}

		req := tr.Request(oracle.PurposePropose)
		resp, err := c.oracle.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Plan{}, ctx.Err()
			}
			c.opts.Logger.Warn("proposal failed",
				zap.Int("timestep", round.Timestep), zap.Int("round", plan.Rounds), zap.Error(err))
			continue
		}
		tr.Append(oracle.TurnAssistant, resp.Text)
		c.opts.record(CentralChatName, title, oracle.Turn{Role: oracle.TurnUser, Content: req.LastUser()},
			oracle.Turn{Role: oracle.TurnAssistant, Content: resp.Text})

		intents, missing := parseIntents(resp.Text, round.Members)
		if len(intents) > 0 {
			last = intents
		}
		if len(missing) > 0 {
			c.opts.Logger.Info("proposal missing intents",
				zap.Int("timestep", round.Timestep), zap.Int("round", plan.Rounds), zap.Int("missing", len(missing)))
			tr.Append(oracle.TurnUser, missingIntentsPrompt(missing))
			continue
		}

		feedback, abstained, accepted, err := c.collectFeedback(ctx, round, intents)
		if err != nil {
			return Plan{}, err
		}
		plan.Abstained = abstained
		if accepted {
			plan.Intents = intents
			plan.Accepted = true
			plan.Transcript = tr.Entries()
			span.SetAttributes(attribute.Int("rounds", plan.Rounds))
			c.opts.observe(plan)
			return plan, nil
		}
		tr.Append(oracle.TurnUser, revisionPrompt(feedback))
	}

	plan.Transcript = tr.Entries()
	plan.Fallback = c.cfg.Fallback
	c.opts.Logger.Warn("consensus fallback",
		zap.Int("timestep", round.Timestep),
		zap.Int("rounds", plan.Rounds),
		zap.String("fallback", plan.Fallback),
		zap.Error(domain.ErrConsensusNonTermination),
	)
	span.RecordError(domain.ErrConsensusNonTermination)
	span.SetStatus(codes.Error, "round cap reached")

	for _, m := range round.Members {
		intent, ok := last[m.ID]
		if c.cfg.Fallback == FallbackCommitLast && ok {
			plan.Intents[m.ID] = intent
			continue
		}
		plan.Fixed[m.ID] = domain.IdleOption("no consensus reached")
	}
	c.opts.observe(plan)
	return plan, nil
}

// parseIntents extracts one <AGENT_N> segment per member and reports the
// members with none.
func parseIntents(text string, members []Member) (map[domain.AgentID]string, []domain.AgentID) {
	intents := make(map[domain.AgentID]string, len(members))
	var missing []domain.AgentID
	for _, m := range members {
		v, ok := oracle.Tag(text, m.ID.Tag())
		if !ok {
			missing = append(missing, m.ID)
			continue
		}
		intents[m.ID] = oracle.Unquote(v)
	}
	return intents, missing
}

// collectFeedback asks every member about the proposal. A failed call
// abstains: it neither accepts nor blocks acceptance, and the member is
// reported in the abstained list instead of the feedback map.
func (c *Central) collectFeedback(ctx context.Context, round Round, intents map[domain.AgentID]string) (map[domain.AgentID]string, []domain.AgentID, bool, error) {
	results := make([]string, len(round.Members))
	failed := make([]bool, len(round.Members))
	ask := func(ctx context.Context, i int) error {
		m := round.Members[i]
		system, user := feedbackPrompts(round, m, intents)
		resp, err := c.oracle.Complete(ctx, oracle.Request{
			Purpose: oracle.PurposeFeedback,
			Agent:   m.ID,
			System:  system,
			Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: user}},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.opts.Logger.Warn("feedback failed, abstaining",
				zap.Int("agent", int(m.ID)), zap.Int("timestep", round.Timestep), zap.Error(err))
			failed[i] = true
			return nil
		}
		c.opts.record(ChatName(m.ID), "Providing Feedback",
			oracle.Turn{Role: oracle.TurnUser, Content: user},
			oracle.Turn{Role: oracle.TurnAssistant, Content: resp.Text})
		fb, ok := oracle.Tag(resp.Text, "feedback")
		if !ok {
			fb = strings.TrimSpace(resp.Text)
		}
		results[i] = oracle.Unquote(fb)
		return nil
	}

	if c.cfg.ConcurrentFeedback {
		g, gctx := errgroup.WithContext(ctx)
		for i := range round.Members {
			g.Go(func() error { return ask(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, nil, false, err
		}
	} else {
		for i := range round.Members {
			if err := ask(ctx, i); err != nil {
				return nil, nil, false, err
			}
		}
	}

	feedback := make(map[domain.AgentID]string, len(results))
	var abstained []domain.AgentID
	accepted := true
	for i, m := range round.Members {
		if failed[i] {
			abstained = append(abstained, m.ID)
			continue
		}
		feedback[m.ID] = results[i]
		if !strings.Contains(results[i], c.cfg.AcceptToken) {
			accepted = false
		}
	}
	return feedback, abstained, accepted, nil
}
