package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreatePending inserts the given records in one transaction. All records
// must carry StatusPending; the partial unique index on
// (task_id, trigger_slot) rejects duplicates for a slot.
func (s *Store) CreatePending(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range recs {
		if err := insertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RetireAndCreate atomically deletes pending records for the named slots of
// one task and inserts the replacement records. A poll cycle running
// concurrently sees either the old set or the new one, never a mix.
func (s *Store) RetireAndCreate(ctx context.Context, taskID string, slots []string, recs []Record) error {
	if len(slots) == 0 && len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, slot := range slots {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM notifications WHERE task_id = ? AND trigger_slot = ? AND status = 'pending'`,
			taskID, slot,
		)
		if err != nil {
			return err
		}
	}
	for _, r := range recs {
		if err := insertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRecord(ctx context.Context, tx *sql.Tx, r Record) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(record_id, task_id, trigger_slot, fire_time, status, created_at, sent_at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.TaskID, r.Slot, r.FireTime, string(r.Status),
		r.CreatedAt.Format(time.RFC3339Nano), nil,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	return nil
}

// DueBefore returns pending records with fire_time at or before now,
// earliest first, joined against their owning task. Records whose task is
// gone come back with TaskExists false and must still be processable.
//
// The SQL filter is a lexicographic comparison on the canonical timestamp
// form; callers re-parse fire_time and must skip values that don't parse
// (stored-verbatim garbage can sort before now but is never due).
func (s *Store) DueBefore(ctx context.Context, now time.Time, limit int) ([]DueRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.record_id, n.task_id, n.trigger_slot, n.fire_time, n.status, n.created_at, n.sent_at,
		        t.task_id, t.user_id, t.title, t.description, t.deadline, t.priority
		 FROM notifications n
		 LEFT JOIN tasks t ON n.task_id = t.task_id
		 WHERE n.status = 'pending' AND n.fire_time <= ?
		 ORDER BY n.fire_time ASC
		 LIMIT ?`,
		now.Format(TimeLayout), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueRecord
	for rows.Next() {
		var (
			d         DueRecord
			status    string
			createdAt string
			sentAt    sql.NullString
			taskID    sql.NullString
			ownerID   sql.NullString
			title     sql.NullString
			desc      sql.NullString
			deadline  sql.NullString
			priority  sql.NullString
		)
		if err := rows.Scan(
			&d.ID, &d.TaskID, &d.Slot, &d.FireTime, &status, &createdAt, &sentAt,
			&taskID, &ownerID, &title, &desc, &deadline, &priority,
		); err != nil {
			return nil, err
		}
		st, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		d.Status = st
		d.CreatedAt = parseStoredTime(createdAt)
		if sentAt.Valid {
			t := parseStoredTime(sentAt.String)
			d.SentAt = &t
		}
		d.TaskExists = taskID.Valid
		d.OwnerID = ownerID.String
		d.Title = title.String
		d.Description = desc.String
		d.Deadline = deadline.String
		d.Priority = priority.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Claim transitions one record from pending to claimed. It reports false
// when the record was already taken (or retired by a reconcile), which is
// what keeps an overlapping poll cycle from double-sending.
func (s *Store) Claim(ctx context.Context, recordID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'claimed' WHERE record_id = ? AND status = 'pending'`,
		recordID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSent finalizes a claimed record as sent. The sent_at write and the
// status transition are a single statement: the atomic boundary that
// prevents reprocessing.
func (s *Store) MarkSent(ctx context.Context, recordID string, at time.Time) error {
	return s.finalize(ctx, recordID, StatusSent, at)
}

// MarkFailed finalizes a claimed record as failed (terminal).
func (s *Store) MarkFailed(ctx context.Context, recordID string, at time.Time) error {
	return s.finalize(ctx, recordID, StatusFailed, at)
}

func (s *Store) finalize(ctx context.Context, recordID string, status Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ? WHERE record_id = ? AND status = 'claimed'`,
		string(status), at.Format(time.RFC3339Nano), recordID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("finalize %s as %s: %w", recordID, status, ErrRecordNotFound)
	}
	return nil
}

// GetRecord looks up one record by id.
func (s *Store) GetRecord(ctx context.Context, recordID string) (Record, error) {
	var (
		r         Record
		status    string
		createdAt string
		sentAt    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT record_id, task_id, trigger_slot, fire_time, status, created_at, sent_at
		 FROM notifications WHERE record_id = ?`,
		recordID,
	).Scan(&r.ID, &r.TaskID, &r.Slot, &r.FireTime, &status, &createdAt, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	st, err := parseStatus(status)
	if err != nil {
		return Record{}, err
	}
	r.Status = st
	r.CreatedAt = parseStoredTime(createdAt)
	if sentAt.Valid {
		t := parseStoredTime(sentAt.String)
		r.SentAt = &t
	}
	return r, nil
}

// RecordsForTask returns all records for a task, optionally filtered by
// status. Used by the host's task views and by tests.
func (s *Store) RecordsForTask(ctx context.Context, taskID string, status Status) ([]Record, error) {
	q := `SELECT record_id, task_id, trigger_slot, fire_time, status, created_at, sent_at
	      FROM notifications WHERE task_id = ?`
	args := []any{taskID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY fire_time ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			st        string
			createdAt string
			sentAt    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Slot, &r.FireTime, &st, &createdAt, &sentAt); err != nil {
			return nil, err
		}
		ps, err := parseStatus(st)
		if err != nil {
			return nil, err
		}
		r.Status = ps
		r.CreatedAt = parseStoredTime(createdAt)
		if sentAt.Valid {
			t := parseStoredTime(sentAt.String)
			r.SentAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
