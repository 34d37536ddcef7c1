package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the canonical second-precision local timestamp form used
// for fire times ("2006-01-02 15:04:05"). Trigger input may arrive in
// other shapes; it is normalized to this layout before storage.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrRecordNotFound = errors.New("notification record not found")
)

// Status is the lifecycle state of a notification record.
//
// pending → claimed → sent | failed. failed is terminal; there is no
// automatic re-enqueue and no cancelled state (a deleted task leaves its
// records processable with a placeholder title).
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func parseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusClaimed, StatusSent, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown notification status %q", s)
}

// Record is one scheduled reminder for one trigger slot of one task.
type Record struct {
	ID        string
	TaskID    string
	Slot      string // "notification_time" or "notif1".."notif8"
	FireTime  string // canonical TimeLayout, or verbatim unparseable input
	Status    Status
	CreatedAt time.Time
	SentAt    *time.Time
}

// NewRecordID derives a record identifier from the task, slot and creation
// instant so records from different creation events never collide. The
// slot is still stored as its own column; nothing re-parses this string.
func NewRecordID(taskID, slot string, at time.Time) string {
	return fmt.Sprintf("notif_%s_%s_%d", taskID, slot, at.UnixNano())
}

// DueRecord is a pending record joined with its owning task. Task fields
// are zero-valued when the task has been deleted (TaskExists false).
type DueRecord struct {
	Record

	TaskExists  bool
	OwnerID     string
	Title       string
	Description string
	Deadline    string
	Priority    string
}

// Task is the typed view of a host-owned task row consumed by the engine.
type Task struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Deadline    string
	Priority    string
	Status      string

	// Trigger slots: primary plus eight numbered ones. Empty means unset.
	NotificationTime string
	Notif            [8]string // notif1..notif8

	CreatedAt    time.Time
	LastModified time.Time
}

// Validate rejects tasks that would be unreadable downstream. The engine
// applies this at the store boundary instead of sprinkling nil checks.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task: id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("task: title is required")
	}
	return nil
}

// SlotValue returns the raw value of a named trigger slot.
func (t *Task) SlotValue(slot string) (string, bool) {
	if slot == "notification_time" {
		return t.NotificationTime, true
	}
	if len(slot) == 6 && strings.HasPrefix(slot, "notif") {
		n := int(slot[5] - '0')
		if n >= 1 && n <= 8 {
			return t.Notif[n-1], true
		}
	}
	return "", false
}
