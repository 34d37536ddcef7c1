package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTaskID generates a task identifier in the host application's format.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GetTask reads one task. The engine treats the task table as read-only;
// this is the join target for recipient resolution and orphan detection.
func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	var (
		t            Task
		createdAt    string
		lastModified string
		ownerID      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, user_id, title, description, deadline, priority, status,
		        notification_time, notif1, notif2, notif3, notif4, notif5, notif6, notif7, notif8,
		        created_at, last_modified
		 FROM tasks WHERE task_id = ?`,
		taskID,
	).Scan(
		&t.ID, &ownerID, &t.Title, &t.Description, &t.Deadline, &t.Priority, &t.Status,
		&t.NotificationTime,
		&t.Notif[0], &t.Notif[1], &t.Notif[2], &t.Notif[3],
		&t.Notif[4], &t.Notif[5], &t.Notif[6], &t.Notif[7],
		&createdAt, &lastModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}
	t.OwnerID = ownerID.String
	t.CreatedAt = parseStoredTime(createdAt)
	t.LastModified = parseStoredTime(lastModified)
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// CreateTask writes a task row on behalf of the host (also used to seed
// tests). It validates at the boundary and fills id/timestamps when empty.
func (s *Store) CreateTask(ctx context.Context, t Task) (string, error) {
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.LastModified = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(task_id, user_id, title, description, deadline, priority, status,
		                   notification_time, notif1, notif2, notif3, notif4, notif5, notif6, notif7, notif8,
		                   created_at, last_modified)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullStr(t.OwnerID), t.Title, t.Description, t.Deadline, t.Priority, t.Status,
		t.NotificationTime,
		t.Notif[0], t.Notif[1], t.Notif[2], t.Notif[3],
		t.Notif[4], t.Notif[5], t.Notif[6], t.Notif[7],
		t.CreatedAt.Format(time.RFC3339Nano), t.LastModified.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// UpdateTaskSlots rewrites trigger-slot columns on a task row. Only the
// slots present in values are touched. Record reconciliation is separate
// (trigger.Reconcile); this just keeps the task row in sync for hosts that
// drive updates through the engine.
func (s *Store) UpdateTaskSlots(ctx context.Context, taskID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	sets := make([]string, 0, len(values)+1)
	args := make([]any, 0, len(values)+2)
	for slot, v := range values {
		if !IsSlotName(slot) {
			continue
		}
		sets = append(sets, slot+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "last_modified = ?")
	args = append(args, time.Now().Format(time.RFC3339Nano), taskID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE task_id = ?", args...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task row. Its notification records are left in
// place; due ones resolve to a placeholder title downstream.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	return err
}

// IsSlotName reports whether s names one of the nine trigger slots.
func IsSlotName(s string) bool {
	if s == "notification_time" {
		return true
	}
	if len(s) == 6 && strings.HasPrefix(s, "notif") {
		return s[5] >= '1' && s[5] <= '8'
	}
	return false
}

// SlotNames lists the trigger slots in display order: the primary slot
// first, then notif1..notif8.
func SlotNames() []string {
	return []string{
		"notification_time",
		"notif1", "notif2", "notif3", "notif4",
		"notif5", "notif6", "notif7", "notif8",
	}
}
