package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("graph: not found")
	ErrInvalidTransition = errors.New("graph: invalid state transition")
	ErrAlreadySynced     = errors.New("graph: proposal already synced")
	ErrSectionNotFound   = errors.New("graph: target section not found")
)

// TransitionError describes a rejected state change. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("graph: %s %s cannot move from %q to %q", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// GuardrailViolation is returned when a sync edge is requested for a proposal
// whose status and implementation status are not both validated at write time.
// No relationship is created when this error is returned.
type GuardrailViolation struct {
	ProposalID           string
	Status               ProposalStatus
	ImplementationStatus ImplementationStatus
}

func (e *GuardrailViolation) Error() string {
	return fmt.Sprintf("graph: guardrail violation: proposal %s has status=%q implementationStatus=%q, both must be %q",
		e.ProposalID, e.Status, e.ImplementationStatus, ProposalValidated)
}
