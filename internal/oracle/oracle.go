// Package oracle talks to the external decision oracle (a language model).
// It provides the request/response contract, an HTTP client for the
// Responses API, a resilience wrapper, and tagged field extraction.
package oracle

import (
	"context"

	"wildfire_crew/internal/domain"
)

const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

// Turn is one entry of a conversation sent to the oracle.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Purposes label requests for logs, metrics and scripted fakes.
const (
	PurposePerception = "perception"
	PurposePropose    = "propose"
	PurposeFeedback   = "feedback"
	PurposeTranslate  = "translate"
	PurposeLeaderPlan = "leader_plan"
	PurposeProposal   = "proposal"
	PurposeReview     = "review"
)

type Request struct {
	Purpose string
	Agent   domain.AgentID
	System  string
	Turns   []Turn
}

type Response struct {
	Text  string
	Usage domain.Usage
}

type Oracle interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// LastUser returns the content of the last user turn of req.
func (r Request) LastUser() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Role == TurnUser {
			return r.Turns[i].Content
		}
	}
	return ""
}
