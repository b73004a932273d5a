// Package repo is the SQLite persistence layer. Submission state is stored
// as a JSON snapshot next to a few denormalized columns for listing; the
// events table is the append-only log the snapshots are derived from.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"papertrail/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

var ErrNotFound = errors.New("not found")

// GetSubmission returns the stored snapshot for a submission. The snapshot
// reflects the last successful save; Load replays the log instead when the
// projected state matters.
func (r Repo) GetSubmission(ctx context.Context, id int64) (*domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT snapshot_json FROM submissions WHERE id=?`, id)
	var snapshot string
	err := row.Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s domain.Submission
	if err := json.Unmarshal([]byte(snapshot), &s); err != nil {
		return nil, fmt.Errorf("decode submission %d snapshot: %w", id, err)
	}
	return &s, nil
}

// SubmissionFilters narrow and page ListSubmissions. Cursor fields come from
// the last row of the previous page.
type SubmissionFilters struct {
	Active          *bool
	Finalized       *bool
	OwnerID         string
	Limit           int
	CursorCreatedAt string
	CursorID        int64
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]*domain.Submission, error) {
	var clauses []string
	var args []any
	if f.Active != nil {
		clauses = append(clauses, "active=?")
		args = append(args, boolInt(*f.Active))
	}
	if f.Finalized != nil {
		clauses = append(clauses, "finalized=?")
		args = append(args, boolInt(*f.Finalized))
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != 0 {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT snapshot_json FROM submissions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Submission
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var s domain.Submission
		if err := json.Unmarshal([]byte(snapshot), &s); err != nil {
			return nil, err
		}
		res = append(res, &s)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
