package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"papertrail/internal/domain"
	"papertrail/internal/events"
)

// Events returns a submission's committed history in creation order.
func (r Repo) Events(ctx context.Context, submissionID int64) ([]*events.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT envelope_json FROM events WHERE submission_id=? ORDER BY created_ns ASC, id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*events.Event
	for rows.Next() {
		var envelope string
		if err := rows.Scan(&envelope); err != nil {
			return nil, err
		}
		ev, err := events.Decode([]byte(envelope))
		if err != nil {
			return nil, err
		}
		ev.Committed = true
		res = append(res, ev)
	}
	return res, rows.Err()
}

// GetEvent returns one event from a submission's history by its identifier.
func (r Repo) GetEvent(ctx context.Context, submissionID int64, eventID string) (*events.Event, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT envelope_json FROM events WHERE submission_id=? AND event_id=?`, submissionID, eventID)
	var envelope string
	err := row.Scan(&envelope)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev, err := events.Decode([]byte(envelope))
	if err != nil {
		return nil, err
	}
	ev.Committed = true
	return ev, nil
}

// StoreEvents persists the uncommitted events in evs and the projected state
// in one transaction. A zero submission ID is assigned on insert. Events
// already committed are skipped; the in-memory batch is marked committed
// only after the transaction lands.
func (r Repo) StoreEvents(ctx context.Context, evs []*events.Event, s *domain.Submission) (*domain.Submission, error) {
	if s == nil {
		return nil, fmt.Errorf("no submission state to store")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.upsertSubmissionTx(ctx, tx, s); err != nil {
		return nil, err
	}

	for _, ev := range evs {
		if ev.Committed {
			continue
		}
		ev.SubmissionID = s.ID
		env, err := events.ToEnvelope(ev)
		if err != nil {
			return nil, err
		}
		env.Committed = true
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(event_id, submission_id, event_type, creator_id, created_at, created_ns, envelope_json)
			 VALUES (?,?,?,?,?,?,?)`,
			env.EventID, s.ID, env.EventType, ev.Creator.Identifier(),
			timestamp(ev.Created), ev.Created.UnixNano(), string(raw)); err != nil {
			return nil, fmt.Errorf("insert event %s: %w", env.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, ev := range evs {
		ev.Committed = true
	}
	return s, nil
}

func (r Repo) upsertSubmissionTx(ctx context.Context, tx *sql.Tx, s *domain.Submission) error {
	if s.ID == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO submissions(creator_id, owner_id, active, finalized, published, title, created_at, updated_at, snapshot_json)
			 VALUES (?,?,?,?,?,?,?,?,'{}')`,
			s.Creator.Identifier(), s.Owner.Identifier(),
			boolInt(s.Active), boolInt(s.Finalized), boolInt(s.Published),
			s.Metadata.Title, timestamp(s.Created), timestamp(s.Updated))
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		s.ID = id
	}

	// The snapshot carries the assigned ID, so it is written last.
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode submission snapshot: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET owner_id=?, active=?, finalized=?, published=?, title=?, updated_at=?, snapshot_json=? WHERE id=?`,
		s.Owner.Identifier(), boolInt(s.Active), boolInt(s.Finalized), boolInt(s.Published),
		s.Metadata.Title, timestamp(s.Updated), string(snapshot), s.ID)
	if err != nil {
		return fmt.Errorf("update submission %d: %w", s.ID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO submissions(id, creator_id, owner_id, active, finalized, published, title, created_at, updated_at, snapshot_json)
			 VALUES (?,?,?,?,?,?,?,?,?,?)`,
			s.ID, s.Creator.Identifier(), s.Owner.Identifier(),
			boolInt(s.Active), boolInt(s.Finalized), boolInt(s.Published),
			s.Metadata.Title, timestamp(s.Created), timestamp(s.Updated), string(snapshot)); err != nil {
			return fmt.Errorf("insert submission %d: %w", s.ID, err)
		}
	}
	return nil
}

// StoredEvent is one event log row, keyed by its rowid so pollers can keep a
// cursor.
type StoredEvent struct {
	RowID        int64
	SubmissionID int64
	EventType    string
	Envelope     json.RawMessage
}

// EventsAfter returns up to limit event rows with rowid greater than cursor,
// oldest first. It backs the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, submission_id, event_type, envelope_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var envelope string
		if err := rows.Scan(&e.RowID, &e.SubmissionID, &e.EventType, &envelope); err != nil {
			return nil, err
		}
		e.Envelope = json.RawMessage(envelope)
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event rowid, or zero when the log is
// empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
