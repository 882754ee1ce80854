package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxvetter/internal/model"
)

var ErrReportNotFound = errors.New("report not found")

// ReportRepository is the read side of the report store. Writes happen in
// the run finalize transaction.
type ReportRepository struct {
	db *pgxpool.Pool
}

func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// ListReports returns the user's reports, newest first. Meta is included
// so listings can show stats without a second query.
func (r *ReportRepository) ListReports(ctx context.Context, email string, limit int) ([]*model.ReportRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, email, title, description, snippet, status, meta, created_at
		FROM reports
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.ToLower(email), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.ReportRecord
	for rows.Next() {
		record, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, record)
	}
	return reports, rows.Err()
}

// GetReport returns one report scoped to its owner.
func (r *ReportRepository) GetReport(ctx context.Context, email, id string) (*model.ReportRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, title, description, snippet, status, meta, created_at
		FROM reports
		WHERE email = $1 AND id = $2
	`, strings.ToLower(email), id)

	record, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	return record, err
}

func scanReport(row pgx.Row) (*model.ReportRecord, error) {
	var record model.ReportRecord
	var metaRaw []byte

	err := row.Scan(
		&record.ID,
		&record.Email,
		&record.Title,
		&record.Description,
		&record.Snippet,
		&record.Status,
		&metaRaw,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaRaw, &record.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode report meta: %w", err)
	}
	return &record, nil
}
