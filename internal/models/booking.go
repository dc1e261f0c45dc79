package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// ActiveStatuses are the statuses that occupy a slot.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

// IsValidStatus reports whether s names a booking status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type Booking struct {
	ID              int64      `json:"id"`
	ServiceTypeID   int64      `json:"service_type_id"`
	ServiceTypeName string     `json:"service_type_name,omitempty"`
	ClientName      string     `json:"client_name"`
	ClientEmail     string     `json:"client_email"`
	ClientPhone     string     `json:"client_phone"`
	Date            Date       `json:"date"`
	StartTime       TimeOfDay  `json:"start_time"`
	EndTime         TimeOfDay  `json:"end_time"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	InternalNotes   string     `json:"internal_notes,omitempty"`
	RejectedReason  string     `json:"rejected_reason,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

// IsActive reports whether the booking currently holds its slot.
func (b *Booking) IsActive() bool {
	for _, s := range ActiveStatuses {
		if b.Status == s {
			return true
		}
	}
	return false
}

// DurationMinutes is the booking's own length, frozen at creation.
func (b *Booking) DurationMinutes() int {
	return b.StartTime.Minutes(b.EndTime)
}

// BookingFilter narrows admin listings. Zero values mean no constraint.
type BookingFilter struct {
	Status        string
	ServiceTypeID int64
	From          *Date
	To            *Date
	Limit         int
	Offset        int
}
