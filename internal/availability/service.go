package availability

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/models"
	"studiobook/internal/slots"

	"github.com/rs/zerolog"
)

const (
	ReasonDateBlocked   = "date blocked"
	ReasonNonWorkingDay = "non-working day"
)

// Catalog is the read side of the working-hours and block catalogs.
type Catalog interface {
	GetActiveServiceType(ctx context.Context, id int64) (*models.ServiceType, error)
	IsDateBlocked(ctx context.Context, date models.Date) (bool, error)
	WorkingHoursFor(ctx context.Context, day time.Weekday) (*models.WorkingHours, error)
	TimeRangeBlocksFor(ctx context.Context, date models.Date, serviceTypeID int64) ([]models.TimeRangeBlock, error)
}

// Bookings returns the pending and confirmed bookings of a service type on a date.
type Bookings interface {
	ActiveBookingsOn(ctx context.Context, serviceTypeID int64, date models.Date) ([]models.Booking, error)
}

// Result is the answer to an availability query. Reason is set only when the
// whole date is closed.
type Result struct {
	Date          models.Date  `json:"date"`
	ServiceTypeID int64        `json:"service_type_id"`
	Slots         []slots.Slot `json:"slots"`
	Reason        string       `json:"reason,omitempty"`
}

type Service struct {
	catalog  Catalog
	bookings Bookings
	logger   *zerolog.Logger
}

func NewService(catalog Catalog, bookings Bookings, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{catalog: catalog, bookings: bookings, logger: logger}
}

// GetAvailableSlots computes the free slots of a service type on a date.
// It only reads and may be called concurrently.
func (s *Service) GetAvailableSlots(ctx context.Context, serviceTypeID int64, date models.Date) (*Result, error) {
	st, err := s.catalog.GetActiveServiceType(ctx, serviceTypeID)
	if err != nil {
		return nil, err
	}

	res := &Result{Date: date, ServiceTypeID: st.ID, Slots: []slots.Slot{}}

	candidates, reason, err := s.candidates(ctx, st, date)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		res.Reason = reason
		return res, nil
	}

	booked, blocked, err := s.taken(ctx, st.ID, date)
	if err != nil {
		return nil, err
	}

	free := slots.Filter(candidates, booked, blocked)
	res.Slots = slots.ToSlots(date, st.ID, free)

	s.logger.Debug().
		Int64("service_type_id", st.ID).
		Str("date", date.String()).
		Int("candidates", len(candidates)).
		Int("free", len(free)).
		Msg("Availability computed")
	return res, nil
}

// IsSlotAvailable rechecks a single start time against working hours and
// blocks. Conflicts with other bookings are left to the storage layer.
func (s *Service) IsSlotAvailable(ctx context.Context, serviceTypeID int64, date models.Date, start models.TimeOfDay) (bool, string, error) {
	st, err := s.catalog.GetActiveServiceType(ctx, serviceTypeID)
	if err != nil {
		return false, "", err
	}

	candidates, reason, err := s.candidates(ctx, st, date)
	if err != nil {
		return false, "", err
	}
	if reason != "" {
		return false, reason, nil
	}
	if !slots.Contains(candidates, start) {
		return false, "outside working hours", nil
	}

	booked, blocked, err := s.taken(ctx, st.ID, date)
	if err != nil {
		return false, "", err
	}
	free := slots.Filter(candidates, booked, blocked)
	if !slots.Contains(free, start) {
		return false, "slot taken", nil
	}
	return true, "", nil
}

func (s *Service) candidates(ctx context.Context, st *models.ServiceType, date models.Date) ([]slots.Interval, string, error) {
	blocked, err := s.catalog.IsDateBlocked(ctx, date)
	if err != nil {
		return nil, "", fmt.Errorf("check date block: %w", err)
	}
	if blocked {
		return nil, ReasonDateBlocked, nil
	}

	wh, err := s.catalog.WorkingHoursFor(ctx, date.Weekday())
	if err != nil {
		return nil, "", fmt.Errorf("working hours: %w", err)
	}
	if wh == nil || !wh.HasHours() {
		return nil, ReasonNonWorkingDay, nil
	}

	return slots.Generate(wh.OpenTime, wh.CloseTime, st.DurationMinutes), "", nil
}

func (s *Service) taken(ctx context.Context, serviceTypeID int64, date models.Date) (booked, blocked []slots.Interval, err error) {
	active, err := s.bookings.ActiveBookingsOn(ctx, serviceTypeID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("load bookings: %w", err)
	}
	for _, b := range active {
		booked = append(booked, slots.Interval{Start: b.StartTime, End: b.EndTime})
	}

	blocks, err := s.catalog.TimeRangeBlocksFor(ctx, date, serviceTypeID)
	if err != nil {
		return nil, nil, fmt.Errorf("load time blocks: %w", err)
	}
	for _, b := range blocks {
		if b.AppliesTo(serviceTypeID) {
			blocked = append(blocked, slots.Interval{Start: b.StartTime, End: b.EndTime})
		}
	}
	return booked, blocked, nil
}
