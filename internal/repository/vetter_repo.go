package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/model"
	"inboxvetter/pkg/outbox"
)

// RunCompletedRoutingKey is the event emitted when a run finalizes.
const RunCompletedRoutingKey = "inbox.run.completed"

// VetterRepository persists per-user pipeline state and implements the run
// lifecycle's store contract. The active column is the cross-process
// mutual-exclusion guard.
type VetterRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewVetterRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *VetterRepository {
	return &VetterRepository{db: db, outbox: outboxRepo}
}

// runCompletedEvent is the outbox payload for a finalized run.
type runCompletedEvent struct {
	Email    string         `json:"email"`
	ReportID string         `json:"reportId"`
	Status   string         `json:"status"`
	Stats    model.RunStats `json:"stats"`
}

// BeginRun claims the user's active flag. The UPDATE's NOT active guard
// makes the claim atomic: under concurrent begins exactly one statement
// matches a row, every other caller gets *inbox.AlreadyActiveError.
func (r *VetterRepository) BeginRun(ctx context.Context, email string) (*inbox.RunContext, error) {
	email = strings.ToLower(email)

	_, err := r.db.Exec(ctx,
		`INSERT INTO vetter_state (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure vetter state: %w", err)
	}

	var processedRaw, logsRaw []byte
	err = r.db.QueryRow(ctx, `
		UPDATE vetter_state
		SET active = TRUE, updated_at = NOW()
		WHERE email = $1 AND NOT active
		RETURNING processed_message_ids, logs
	`, email).Scan(&processedRaw, &logsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		state, stateErr := r.GetState(ctx, email)
		if stateErr != nil {
			return nil, stateErr
		}
		return nil, &inbox.AlreadyActiveError{State: state}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim active flag: %w", err)
	}

	runCtx := &inbox.RunContext{
		Email:     email,
		StartedAt: time.Now().UTC(),
	}
	if err := json.Unmarshal(processedRaw, &runCtx.ProcessedIDs); err != nil {
		return nil, fmt.Errorf("failed to decode processed ids: %w", err)
	}
	if err := json.Unmarshal(logsRaw, &runCtx.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}

	var settingsRaw []byte
	err = r.db.QueryRow(ctx, `SELECT settings FROM users WHERE email = $1`, email).Scan(&settingsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		r.releaseActive(ctx, email)
		return nil, ErrUserNotFound
	}
	if err != nil {
		r.releaseActive(ctx, email)
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := json.Unmarshal(settingsRaw, &runCtx.Settings); err != nil {
		r.releaseActive(ctx, email)
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	return runCtx, nil
}

// FinalizeRun commits the report, the run-completed outbox event, and the
// released state in one transaction: either the run fully happened or it
// did not.
func (r *VetterRepository) FinalizeRun(ctx context.Context, input inbox.FinalizeInput) error {
	email := strings.ToLower(input.Email)
	report := input.Report

	metaRaw, err := json.Marshal(report.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode report meta: %w", err)
	}
	newIDsRaw, err := json.Marshal(input.NewIDs)
	if err != nil {
		return fmt.Errorf("failed to encode processed ids: %w", err)
	}
	logsRaw, err := json.Marshal(input.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reports (id, email, title, description, snippet, status, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, report.ID, email, report.Title, report.Description, report.Snippet, report.Status, metaRaw, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	payload, err := json.Marshal(runCompletedEvent{
		Email:    email,
		ReportID: report.ID,
		Status:   report.Status,
		Stats:    report.Meta.Stats,
	})
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}
	err = r.outbox.InsertEvent(ctx, tx, &outbox.Event{
		AggregateType: "inbox_run",
		AggregateID:   email,
		RoutingKey:    RunCompletedRoutingKey,
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	// Appending new ids with || keeps the set grow-only even if another
	// writer touched the row between begin and finalize.
	_, err = tx.Exec(ctx, `
		UPDATE vetter_state
		SET active = FALSE,
		    last_run_at = $2,
		    last_report_id = $3,
		    next_run_at = $4,
		    processed_message_ids = processed_message_ids || $5::jsonb,
		    logs = $6,
		    updated_at = NOW()
		WHERE email = $1
	`, email, input.FinishedAt, report.ID, input.NextRunAt, newIDsRaw, logsRaw)
	if err != nil {
		return fmt.Errorf("failed to update vetter state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// FailRun releases the active flag and keeps the failure visible in the
// logs. The dedup set is untouched: unprocessed messages stay eligible.
func (r *VetterRepository) FailRun(ctx context.Context, email string, logs []model.LogEntry) error {
	logsRaw, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE vetter_state
		SET active = FALSE, logs = $2, updated_at = NOW()
		WHERE email = $1
	`, strings.ToLower(email), logsRaw)
	if err != nil {
		return fmt.Errorf("failed to release active flag: %w", err)
	}
	return nil
}

func (r *VetterRepository) GetState(ctx context.Context, email string) (*model.VetterState, error) {
	var state model.VetterState
	var processedRaw, logsRaw []byte

	err := r.db.QueryRow(ctx, `
		SELECT active, last_run_at, last_report_id, next_run_at, processed_message_ids, logs
		FROM vetter_state
		WHERE email = $1
	`, strings.ToLower(email)).Scan(
		&state.Active,
		&state.LastRunAt,
		&state.LastReportID,
		&state.NextRunAt,
		&processedRaw,
		&logsRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.VetterState{ProcessedMessageIDs: []string{}, Logs: []model.LogEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vetter state: %w", err)
	}

	if err := json.Unmarshal(processedRaw, &state.ProcessedMessageIDs); err != nil {
		return nil, fmt.Errorf("failed to decode processed ids: %w", err)
	}
	if err := json.Unmarshal(logsRaw, &state.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}
	return &state, nil
}

func (r *VetterRepository) releaseActive(ctx context.Context, email string) {
	r.db.Exec(ctx, `UPDATE vetter_state SET active = FALSE, updated_at = NOW() WHERE email = $1`, email)
}
