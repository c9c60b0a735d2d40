package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConsensusNonTermination = errors.New("consensus not reached within round cap")
	ErrOracleTimeout           = errors.New("oracle call timed out")
	ErrNonRetryable            = errors.New("non-retryable oracle error")
)

// DecompositionError reports an option or action the role library cannot
// execute. Callers replace it with an explanatory idle action.
type DecompositionError struct {
	Role   Role
	Op     string
	Kind   int
	Reason string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("%s %s kind=%d: %s", e.Role, e.Op, e.Kind, e.Reason)
}

// OracleParseError reports a required tagged field missing from oracle text.
type OracleParseError struct {
	Field string
	Raw   string
}

func (e *OracleParseError) Error() string {
	return fmt.Sprintf("oracle output missing <%s>", e.Field)
}

// EnvironmentCommandError reports a command for a slot the environment does
// not hold. The command is dropped.
type EnvironmentCommandError struct {
	Slot   AgentID
	Reason string
}

func (e *EnvironmentCommandError) Error() string {
	return fmt.Sprintf("drop command for slot %d: %s", int(e.Slot), e.Reason)
}
