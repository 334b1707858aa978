package store

import (
	"errors"
	"time"

	"archsync/internal/graphsync"
)

type RunStatus string

const (
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunUnavailable RunStatus = "unavailable"
	RunSkipped     RunStatus = "skipped"
)

// StatusForError maps a graphsync.Run error to the stored run status.
func StatusForError(err error) RunStatus {
	switch {
	case err == nil:
		return RunCompleted
	case errors.Is(err, graphsync.ErrBackendUnavailable):
		return RunUnavailable
	case errors.Is(err, graphsync.ErrPassInProgress):
		return RunSkipped
	default:
		return RunFailed
	}
}

// SyncRun is one row of the sync ledger.
type SyncRun struct {
	PassID        string                `json:"passId"`
	DocumentID    string                `json:"documentId"`
	Revision      string                `json:"revision"`
	Status        RunStatus             `json:"status"`
	Parsed        int                   `json:"parsed"`
	Created       int                   `json:"created"`
	Updated       int                   `json:"updated"`
	Unchanged     int                   `json:"unchanged"`
	Deleted       int                   `json:"deleted"`
	Failed        int                   `json:"failed"`
	Failures      []graphsync.Failure   `json:"failures"`
	Collisions    []graphsync.Collision `json:"collisions"`
	DeletedSlugs  []string              `json:"deletedSlugs"`
	RetainedSlugs []string              `json:"retainedSlugs"`
	Error         string                `json:"error,omitempty"`
	ArchiveKey    string                `json:"archiveKey,omitempty"`
	StartedAt     time.Time             `json:"startedAt"`
	FinishedAt    *time.Time            `json:"finishedAt,omitempty"`
}

// NewSyncRun builds a ledger row from a pass result and the error Run returned.
func NewSyncRun(result graphsync.Result, runErr error, archiveKey string) SyncRun {
	run := SyncRun{
		PassID:        result.PassID,
		DocumentID:    result.DocumentID,
		Revision:      result.Revision,
		Status:        StatusForError(runErr),
		Parsed:        result.Parsed,
		Created:       result.Created,
		Updated:       result.Updated,
		Unchanged:     result.Unchanged,
		Deleted:       result.Deleted,
		Failed:        result.Failed,
		Failures:      result.Failures,
		Collisions:    result.Collisions,
		DeletedSlugs:  result.DeletedSlugs,
		RetainedSlugs: result.RetainedSlugs,
		ArchiveKey:    archiveKey,
		StartedAt:     result.StartedAt,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if !result.FinishedAt.IsZero() {
		finished := result.FinishedAt
		run.FinishedAt = &finished
	}
	return run
}

// GovernanceEvent is one row of the append-only governance audit trail.
type GovernanceEvent struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Actor      string    `json:"actor"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurredAt"`
}
