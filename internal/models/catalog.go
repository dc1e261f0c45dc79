package models

import "time"

// ServiceType is a bookable offering; its duration fixes the slot length.
type ServiceType struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Color           string    `json:"color,omitempty"`
	IsActive        bool      `json:"is_active"`
	DisplayOrder    int       `json:"display_order"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WorkingHours is the weekly schedule entry for one day (0 = Sunday).
type WorkingHours struct {
	DayOfWeek    int       `json:"day_of_week"`
	IsWorkingDay bool      `json:"is_working_day"`
	OpenTime     TimeOfDay `json:"open_time"`
	CloseTime    TimeOfDay `json:"close_time"`
}

// HasHours reports whether the entry defines a usable open/close window.
func (w WorkingHours) HasHours() bool {
	return w.IsWorkingDay && w.OpenTime < w.CloseTime
}

// DateBlock closes a whole date for every service type.
type DateBlock struct {
	Date      Date      `json:"date"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeRangeBlock removes part of a date. A nil ServiceTypeID applies to all types.
type TimeRangeBlock struct {
	ID            int64     `json:"id"`
	Date          Date      `json:"date"`
	StartTime     TimeOfDay `json:"start_time"`
	EndTime       TimeOfDay `json:"end_time"`
	ServiceTypeID *int64    `json:"service_type_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AppliesTo reports whether the block constrains the given service type.
func (b TimeRangeBlock) AppliesTo(serviceTypeID int64) bool {
	return b.ServiceTypeID == nil || *b.ServiceTypeID == serviceTypeID
}

// Subscriber receives admin notifications of one kind over one channel.
type Subscriber struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
