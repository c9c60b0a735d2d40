package orchestrator

import (
	"context"
	"fmt"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/library"
	"wildfire_crew/internal/oracle"
)

const errorExecutingPrefix = "ERROR EXECUTING: "

const translatorSystem = "You are the controller of a highly trained embodied agent within a grid forest world. Your job is to convert a string action into a structured format for robotic control."

func translatorPrompt(capability library.Capability, intent string) string {
	return fmt.Sprintf(`Convert the action below into exactly one of the available action types.

%s
The action to convert is:
%s

Answer in the following format, using integers for every parameter and 0 for parameters the action type does not use:

<type>action type number</type>
<param_1>first parameter</param_1>
<param_2>second parameter</param_2>
<description>short description of the action</description>`, library.Describe(capability), intent)
}

// translate turns a free-text intent into an Option with one oracle call. On
// any failure it returns an idle option carrying the error and the cause.
func translate(ctx context.Context, o oracle.Oracle, id domain.AgentID, capability library.Capability, intent string) (domain.Option, error) {
	resp, err := o.Complete(ctx, oracle.Request{
		Purpose: oracle.PurposeTranslate,
		Agent:   id,
		System:  translatorSystem,
		Turns:   []oracle.Turn{{Role: oracle.TurnUser, Content: translatorPrompt(capability, intent)}},
	})
	if err != nil {
		return domain.IdleOption(errorExecutingPrefix + intent), fmt.Errorf("translate %s: %w", id.Tag(), err)
	}

	fields, err := oracle.Extract(resp.Text, "type", "param_1", "param_2", "description")
	if err != nil {
		return domain.IdleOption(errorExecutingPrefix + intent), err
	}
	kind, err := oracle.Int(resp.Text, "type")
	if err != nil {
		return domain.IdleOption(errorExecutingPrefix + oracle.Unquote(fields["description"])), err
	}
	p1, err := oracle.Int(resp.Text, "param_1")
	if err != nil {
		return domain.IdleOption(errorExecutingPrefix + oracle.Unquote(fields["description"])), err
	}
	p2, err := oracle.Int(resp.Text, "param_2")
	if err != nil {
		return domain.IdleOption(errorExecutingPrefix + oracle.Unquote(fields["description"])), err
	}
	return domain.Option{
		Kind:        domain.OptionKind(kind),
		Param1:      p1,
		Param2:      p2,
		Description: oracle.Unquote(fields["description"]),
	}, nil
}
