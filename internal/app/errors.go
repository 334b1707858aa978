package app

import (
	"errors"
	"fmt"
	"net/http"

	"archsync/internal/config"
	"archsync/internal/governance"
	"archsync/internal/graph"
	"archsync/internal/graphsync"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// workflowError turns store and governance sentinels into the DomainError the
// HTTP layer reports. Unknown errors pass through unchanged.
func workflowError(err error) error {
	if err == nil {
		return nil
	}
	var violation *graph.GuardrailViolation
	switch {
	case errors.As(err, &violation):
		return domainError(http.StatusConflict, "GUARDRAIL_VIOLATION", "Proposal is not validated for sync", map[string]any{
			"proposalId":           violation.ProposalID,
			"status":               violation.Status,
			"implementationStatus": violation.ImplementationStatus,
		})
	case errors.Is(err, graph.ErrAlreadySynced):
		return domainError(http.StatusConflict, "ALREADY_SYNCED", "Proposal is already synced", nil)
	case errors.Is(err, graph.ErrInvalidTransition):
		return domainError(http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, graph.ErrSectionNotFound):
		return domainError(http.StatusUnprocessableEntity, "SECTION_NOT_FOUND", "Target section does not exist", nil)
	case errors.Is(err, graph.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, governance.ErrValidation):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return err
}

// syncError maps a failed pass to its DomainError. The partial result is
// attached so callers still see per-section outcomes.
func syncError(err error, result graphsync.Result) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, config.ErrConfiguration):
		return domainError(http.StatusUnprocessableEntity, "CONFIGURATION_ERROR", err.Error(), nil)
	case errors.Is(err, ErrInvalidRevision):
		return domainError(http.StatusUnprocessableEntity, "INVALID_REVISION", err.Error(), nil)
	case errors.Is(err, graphsync.ErrBackendUnavailable):
		return domainError(http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "Graph backend unavailable", nil)
	case errors.Is(err, graphsync.ErrPassInProgress):
		return domainError(http.StatusConflict, "SYNC_IN_PROGRESS", "A sync pass is already running", nil)
	case errors.Is(err, graphsync.ErrPassFailed):
		return domainError(http.StatusInternalServerError, "SYNC_FAILED", "Sync pass failed", result)
	}
	return err
}
