package models

import "time"

const (
	TaskCalendarCreate = "calendar.create"
	TaskCalendarUpdate = "calendar.update"
	TaskCalendarDelete = "calendar.delete"
	TaskNotify         = "notify"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusDone       = "done"
	TaskStatusFailed     = "failed"
)

// OutboxTask is a side effect recorded in the same transaction as a booking change.
type OutboxTask struct {
	ID            int64      `json:"id"`
	UUID          string     `json:"uuid"`
	TaskType      string     `json:"task_type"`
	BookingID     int64      `json:"booking_id"`
	Payload       string     `json:"payload,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}
