package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"archsync/internal/governance"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) RecordSyncRun(ctx context.Context, run SyncRun) error {
	failures, err := marshalList(run.Failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}
	collisions, err := marshalList(run.Collisions)
	if err != nil {
		return fmt.Errorf("encode collisions: %w", err)
	}
	deleted, err := marshalList(run.DeletedSlugs)
	if err != nil {
		return fmt.Errorf("encode deleted slugs: %w", err)
	}
	retained, err := marshalList(run.RetainedSlugs)
	if err != nil {
		return fmt.Errorf("encode retained slugs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			pass_id, document_id, revision, status,
			parsed, created, updated, unchanged, deleted, failed,
			failures, collisions, deleted_slugs, retained_slugs, error, archive_key,
			started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16, $17, $18)
		ON CONFLICT (pass_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			archive_key = EXCLUDED.archive_key,
			finished_at = EXCLUDED.finished_at
	`,
		run.PassID, run.DocumentID, run.Revision, string(run.Status),
		run.Parsed, run.Created, run.Updated, run.Unchanged, run.Deleted, run.Failed,
		failures, collisions, deleted, retained, run.Error, run.ArchiveKey,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, documentID string, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, document_id, revision, status,
			parsed, created, updated, unchanged, deleted, failed,
			failures, collisions, deleted_slugs, retained_slugs, error, archive_key,
			started_at, finished_at
		FROM sync_runs
		WHERE document_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	items := make([]SyncRun, 0)
	for rows.Next() {
		var run SyncRun
		var status string
		var failures, collisions, deleted, retained []byte
		var finished sql.NullTime
		if err := rows.Scan(
			&run.PassID, &run.DocumentID, &run.Revision, &status,
			&run.Parsed, &run.Created, &run.Updated, &run.Unchanged, &run.Deleted, &run.Failed,
			&failures, &collisions, &deleted, &retained, &run.Error, &run.ArchiveKey,
			&run.StartedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.Status = RunStatus(status)
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, fmt.Errorf("decode failures: %w", err)
		}
		if err := json.Unmarshal(collisions, &run.Collisions); err != nil {
			return nil, fmt.Errorf("decode collisions: %w", err)
		}
		if err := json.Unmarshal(deleted, &run.DeletedSlugs); err != nil {
			return nil, fmt.Errorf("decode deleted slugs: %w", err)
		}
		if err := json.Unmarshal(retained, &run.RetainedSlugs); err != nil {
			return nil, fmt.Errorf("decode retained slugs: %w", err)
		}
		if finished.Valid {
			at := finished.Time
			run.FinishedAt = &at
		}
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return items, nil
}

// RecordGovernanceEvent appends to the audit trail. It satisfies
// governance.Recorder.
func (s *PostgresStore) RecordGovernanceEvent(ctx context.Context, event governance.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governance_events (id, entity_type, entity_id, action, outcome, actor, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.EntityType, event.EntityID, event.Action, event.Outcome, event.Actor, event.Detail, event.At)
	if err != nil {
		return fmt.Errorf("insert governance event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGovernanceEvents(ctx context.Context, entityID string, limit int) ([]GovernanceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, outcome, actor, detail, occurred_at
		FROM governance_events
		WHERE entity_id = $1
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list governance events: %w", err)
	}
	defer rows.Close()

	items := make([]GovernanceEvent, 0)
	for rows.Next() {
		var event GovernanceEvent
		if err := rows.Scan(&event.ID, &event.EntityType, &event.EntityID, &event.Action, &event.Outcome, &event.Actor, &event.Detail, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan governance event: %w", err)
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate governance events: %w", err)
	}
	return items, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

var _ governance.Recorder = (*PostgresStore)(nil)
