package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiobook/internal/calendar"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/notify"
	"studiobook/internal/outbox"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Repository is the booking store. Writes take an Effects callback whose
// tasks are committed together with the booking change.
type Repository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	CreateBooking(ctx context.Context, b *models.Booking, effects database.Effects) ([]*models.OutboxTask, error)
	TransitionBooking(ctx context.Context, id int64, tr database.Transition, effects database.Effects) (*models.Booking, []*models.OutboxTask, error)
	UpdateBooking(ctx context.Context, id int64, mutate func(b *models.Booking) error, effects database.Effects) (*models.Booking, []*models.OutboxTask, error)
	DeleteBooking(ctx context.Context, id int64, effects database.Effects) (*models.Booking, []*models.OutboxTask, error)
	EnqueueTasks(ctx context.Context, tasks ...*models.OutboxTask) error
	ListSubscribers(ctx context.Context, kind string) ([]models.Subscriber, error)
}

type Catalog interface {
	GetActiveServiceType(ctx context.Context, id int64) (*models.ServiceType, error)
}

type Availability interface {
	IsSlotAvailable(ctx context.Context, serviceTypeID int64, date models.Date, start models.TimeOfDay) (bool, string, error)
}

// Flusher runs freshly committed side-effect tasks.
type Flusher interface {
	Flush(ctx context.Context, ids []int64) []domain.SyncWarning
}

type Options struct {
	MaxAdvanceDays    int
	SideEffectTimeout time.Duration
	// Location is the studio wall-clock zone used to decide what "today" is.
	Location *time.Location
	Now      func() time.Time
}

// Result is returned by every mutating call. Warnings list side effects
// that did not complete; they are retried in the background.
type Result struct {
	Booking  *models.Booking      `json:"booking"`
	Warnings []domain.SyncWarning `json:"warnings,omitempty"`
}

// Service implements the booking lifecycle:
// pending -> confirmed | rejected | cancelled, confirmed -> cancelled,
// and hard delete from any status.
type Service struct {
	repo         Repository
	catalog      Catalog
	availability Availability
	calendar     calendar.Sync
	dispatcher   Flusher
	validate     *validator.Validate
	opts         Options
	logger       *zerolog.Logger
}

// NewService wires the lifecycle. cal may be nil when calendar sync is off.
func NewService(
	repo Repository,
	cat Catalog,
	avail Availability,
	cal calendar.Sync,
	dispatcher Flusher,
	opts Options,
	logger *zerolog.Logger,
) *Service {
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = 90
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		repo:         repo,
		catalog:      cat,
		availability: avail,
		calendar:     cal,
		dispatcher:   dispatcher,
		validate:     newValidator(),
		opts:         opts,
		logger:       logger,
	}
}

type CreateRequest struct {
	ServiceTypeID int64  `json:"service_type_id" validate:"required,gt=0"`
	ClientName    string `json:"client_name" validate:"required,max=200"`
	ClientEmail   string `json:"client_email" validate:"required,email,max=254"`
	ClientPhone   string `json:"client_phone" validate:"required,phone"`
	Date          string `json:"date" validate:"required"`
	StartTime     string `json:"start_time" validate:"required"`
	Notes         string `json:"notes" validate:"max=2000"`
}

func (r *CreateRequest) normalize() {
	r.ClientName = strings.TrimSpace(r.ClientName)
	r.ClientEmail = strings.TrimSpace(r.ClientEmail)
	r.ClientPhone = strings.TrimSpace(r.ClientPhone)
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.Notes = strings.TrimSpace(r.Notes)
}

// Create validates a public booking request, rechecks the slot and stores
// the booking as pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	req.normalize()
	if err := validateStruct(s.validate, &req); err != nil {
		return nil, err
	}

	date, start, err := s.parseSlot(req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}

	st, err := s.catalog.GetActiveServiceType(ctx, req.ServiceTypeID)
	if err != nil {
		return nil, err
	}

	ok, reason, err := s.availability.IsSlotAvailable(ctx, st.ID, date, start)
	if err != nil {
		return nil, fmt.Errorf("recheck availability: %w", err)
	}
	if !ok {
		metrics.IncSlotConflict()
		return nil, fmt.Errorf("%s %s: %s: %w", date, start, reason, domain.ErrSlotUnavailable)
	}

	admins, err := s.subscribers(ctx, models.KindBookingPending)
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ServiceTypeID:   st.ID,
		ServiceTypeName: st.Name,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientPhone:     req.ClientPhone,
		Date:            date,
		StartTime:       start,
		EndTime:         start.AddMinutes(st.DurationMinutes),
		Notes:           req.Notes,
	}

	tasks, err := s.repo.CreateBooking(ctx, b, func(snap *models.Booking) []*models.OutboxTask {
		snap.ServiceTypeName = st.Name
		out := adminTasks(models.KindBookingPending, admins, snap)
		return append(out, clientTask(models.KindRequestReceived, snap))
	})
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncSlotConflict()
		}
		return nil, err
	}

	metrics.IncBookingCreated(st.Slug)
	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("service_type_id", st.ID).
		Str("date", date.String()).
		Str("start", start.String()).
		Msg("Booking created")

	return s.finish(ctx, b, tasks), nil
}

func (s *Service) parseSlot(rawDate, rawStart string) (models.Date, models.TimeOfDay, error) {
	verr := &domain.ValidationError{}
	date, err := models.ParseDate(rawDate)
	if err != nil {
		verr.Add("date", "must be YYYY-MM-DD")
	}
	start, err := models.ParseTimeOfDay(rawStart)
	if err != nil {
		verr.Add("start_time", "must be HH:MM or HH:MM:SS")
	}
	if err := verr.OrNil(); err != nil {
		return models.Date{}, 0, err
	}

	now := s.opts.Now().In(s.opts.Location)
	today := models.DateOf(now)
	switch {
	case date.Before(today):
		verr.Add("date", "must not be in the past")
	case date.Equal(today) && start.On(date, s.opts.Location).Before(now):
		verr.Add("start_time", "must not be in the past")
	case date.After(today.AddDays(s.opts.MaxAdvanceDays)):
		verr.Add("date", fmt.Sprintf("must be within %d days", s.opts.MaxAdvanceDays))
	}
	return date, start, verr.OrNil()
}

// Confirm moves a pending booking to confirmed. Confirming an already
// confirmed booking is a no-op.
func (s *Service) Confirm(ctx context.Context, id int64, internalNotes *string) (*Result, error) {
	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusConfirmed {
		return &Result{Booking: current}, nil
	}

	admins, err := s.subscribers(ctx, models.KindBookingConfirmed)
	if err != nil {
		return nil, err
	}

	b, tasks, err := s.repo.TransitionBooking(ctx, id, database.Transition{
		Action:        "confirm",
		From:          []string{models.StatusPending},
		To:            models.StatusConfirmed,
		InternalNotes: internalNotes,
	}, func(snap *models.Booking) []*models.OutboxTask {
		var out []*models.OutboxTask
		if s.calendar != nil {
			out = append(out, outbox.CalendarTask(models.TaskCalendarCreate, calendar.NewEventID()))
		}
		out = append(out, adminTasks(models.KindBookingConfirmed, admins, snap)...)
		return append(out, clientTask(models.KindConfirmed, snap))
	})
	if err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) && terr.From == models.StatusConfirmed {
			return s.noop(ctx, id)
		}
		return nil, s.transitionFailed("confirm", err)
	}

	metrics.IncTransition("confirm", "ok")
	s.logger.Info().Int64("booking_id", id).Msg("Booking confirmed")
	return s.finish(ctx, b, tasks), nil
}

func (s *Service) noop(ctx context.Context, id int64) (*Result, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Booking: b}, nil
}

// Reject declines a pending booking. The client is told the reason when given.
func (s *Service) Reject(ctx context.Context, id int64, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 1000 {
		return nil, domain.NewValidationError("reason", "must be at most 1000 characters")
	}

	b, tasks, err := s.repo.TransitionBooking(ctx, id, database.Transition{
		Action:         "reject",
		From:           []string{models.StatusPending},
		To:             models.StatusRejected,
		RejectedReason: &reason,
	}, func(snap *models.Booking) []*models.OutboxTask {
		return []*models.OutboxTask{clientTask(models.KindRejected, snap)}
	})
	if err != nil {
		return nil, s.transitionFailed("reject", err)
	}

	metrics.IncTransition("reject", "ok")
	s.logger.Info().Int64("booking_id", id).Str("reason", reason).Msg("Booking rejected")
	return s.finish(ctx, b, tasks), nil
}

// Cancel frees the slot of a pending or confirmed booking. It has no
// external side effects.
func (s *Service) Cancel(ctx context.Context, id int64) (*Result, error) {
	b, _, err := s.repo.TransitionBooking(ctx, id, database.Transition{
		Action: "cancel",
		From:   models.ActiveStatuses,
		To:     models.StatusCancelled,
	}, nil)
	if err != nil {
		return nil, s.transitionFailed("cancel", err)
	}

	metrics.IncTransition("cancel", "ok")
	s.logger.Info().Int64("booking_id", id).Msg("Booking cancelled")
	return &Result{Booking: b}, nil
}

// UpdateRequest lists the admin-editable fields. Nil fields are left alone.
type UpdateRequest struct {
	ClientName    *string `json:"client_name" validate:"omitempty,max=200"`
	ClientEmail   *string `json:"client_email" validate:"omitempty,email,max=254"`
	ClientPhone   *string `json:"client_phone" validate:"omitempty,phone"`
	Date          *string `json:"date"`
	StartTime     *string `json:"start_time"`
	Notes         *string `json:"notes" validate:"omitempty,max=2000"`
	InternalNotes *string `json:"internal_notes" validate:"omitempty,max=2000"`
}

// Update edits a booking without changing its status. Moving an active
// booking re-checks the slot; its length stays the same.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Result, error) {
	if err := validateStruct(s.validate, &req); err != nil {
		return nil, err
	}

	verr := &domain.ValidationError{}
	var newDate *models.Date
	var newStart *models.TimeOfDay
	if req.Date != nil {
		d, err := models.ParseDate(strings.TrimSpace(*req.Date))
		if err != nil {
			verr.Add("date", "must be YYYY-MM-DD")
		}
		newDate = &d
	}
	if req.StartTime != nil {
		t, err := models.ParseTimeOfDay(strings.TrimSpace(*req.StartTime))
		if err != nil {
			verr.Add("start_time", "must be HH:MM or HH:MM:SS")
		}
		newStart = &t
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	mutate := func(b *models.Booking) error {
		if req.ClientName != nil {
			if strings.TrimSpace(*req.ClientName) == "" {
				return domain.NewValidationError("client_name", "must not be empty")
			}
			b.ClientName = strings.TrimSpace(*req.ClientName)
		}
		if req.ClientEmail != nil {
			b.ClientEmail = strings.TrimSpace(*req.ClientEmail)
		}
		if req.ClientPhone != nil {
			b.ClientPhone = strings.TrimSpace(*req.ClientPhone)
		}
		if req.Notes != nil {
			b.Notes = strings.TrimSpace(*req.Notes)
		}
		if req.InternalNotes != nil {
			b.InternalNotes = strings.TrimSpace(*req.InternalNotes)
		}

		if newDate != nil || newStart != nil {
			length := b.DurationMinutes()
			if newDate != nil {
				b.Date = *newDate
			}
			if newStart != nil {
				b.StartTime = *newStart
			}
			b.EndTime = b.StartTime.AddMinutes(length)
			if !b.EndTime.Valid() || b.EndTime <= b.StartTime {
				return domain.NewValidationError("start_time", "booking must end on the same day")
			}
		}
		return nil
	}

	b, tasks, err := s.repo.UpdateBooking(ctx, id, mutate, func(snap *models.Booking) []*models.OutboxTask {
		if s.calendar == nil || snap.CalendarEventID == "" {
			return nil
		}
		return []*models.OutboxTask{outbox.CalendarTask(models.TaskCalendarUpdate, snap.CalendarEventID)}
	})
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncSlotConflict()
		}
		return nil, s.transitionFailed("update", err)
	}

	metrics.IncTransition("update", "ok")
	s.logger.Info().Int64("booking_id", id).Msg("Booking updated")
	return s.finish(ctx, b, tasks), nil
}

// Delete removes a booking permanently. The calendar event is deleted while
// the booking still exists; a confirmed booking's client gets a cancellation
// notice built from the final snapshot.
func (s *Service) Delete(ctx context.Context, id int64) (*Result, error) {
	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	var warnings []domain.SyncWarning
	calendarFailed := false
	if s.calendar != nil && current.CalendarEventID != "" {
		sideCtx, cancel := s.sideEffectContext(ctx)
		err := s.calendar.DeleteEvent(sideCtx, current.CalendarEventID)
		cancel()
		if err != nil {
			calendarFailed = true
			warnings = append(warnings, domain.SyncWarning{Effect: models.TaskCalendarDelete, Message: err.Error()})
			s.logger.Warn().Err(err).Int64("booking_id", id).Msg("Calendar delete failed, queued for retry")
		}
	}

	var retry *models.OutboxTask
	snap, tasks, err := s.repo.DeleteBooking(ctx, id, func(snap *models.Booking) []*models.OutboxTask {
		var out []*models.OutboxTask
		if s.calendar != nil && snap.CalendarEventID != "" &&
			(calendarFailed || snap.CalendarEventID != current.CalendarEventID) {
			retry = outbox.CalendarTask(models.TaskCalendarDelete, snap.CalendarEventID)
			out = append(out, retry)
		}
		if snap.Status == models.StatusConfirmed {
			out = append(out, clientTask(models.KindCancelled, snap))
		}
		return out
	})
	if err != nil {
		return nil, s.transitionFailed("delete", err)
	}

	// A failed calendar delete was already reported; its retry is left to the worker.
	flush := tasks[:0:0]
	for _, t := range tasks {
		if t != retry || !calendarFailed {
			flush = append(flush, t)
		}
	}

	metrics.IncTransition("delete", "ok")
	s.logger.Info().Int64("booking_id", id).Str("status", snap.Status).Msg("Booking deleted")

	res := s.finish(ctx, snap, flush)
	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

// ResyncCalendar queues a fresh calendar push for a confirmed booking.
func (s *Service) ResyncCalendar(ctx context.Context, id int64) (*Result, error) {
	if s.calendar == nil {
		return nil, domain.NewValidationError("calendar", "calendar sync is disabled")
	}

	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusConfirmed {
		return nil, &domain.TransitionError{From: b.Status, Action: "resync"}
	}

	task := outbox.CalendarTask(models.TaskCalendarCreate, calendar.NewEventID())
	if b.CalendarEventID != "" {
		task = outbox.CalendarTask(models.TaskCalendarUpdate, b.CalendarEventID)
	}
	task.BookingID = b.ID
	if err := s.repo.EnqueueTasks(ctx, task); err != nil {
		return nil, err
	}

	return s.finish(ctx, b, []*models.OutboxTask{task}), nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// List returns bookings, optionally filtered by status.
func (s *Service) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		return nil, domain.NewValidationError("status", "unknown status "+filter.Status)
	}
	bookings, err := s.repo.ListBookings(ctx, filter)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

func (s *Service) subscribers(ctx context.Context, kind string) ([]models.Subscriber, error) {
	subs, err := s.repo.ListSubscribers(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s subscribers: %w", kind, err)
	}
	return subs, nil
}

func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
}

// finish runs the committed tasks under the side-effect timeout.
func (s *Service) finish(ctx context.Context, b *models.Booking, tasks []*models.OutboxTask) *Result {
	res := &Result{Booking: b}
	if len(tasks) == 0 || s.dispatcher == nil {
		return res
	}

	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()
	res.Warnings = s.dispatcher.Flush(sideCtx, ids)

	for _, w := range res.Warnings {
		metrics.IncSyncWarning(w.Effect)
		s.logger.Warn().
			Int64("booking_id", b.ID).
			Str("effect", w.Effect).
			Int64("task_id", w.TaskID).
			Str("error", w.Message).
			Msg("Side effect failed, queued for retry")
	}

	// Effects may have written back to the row, e.g. calendar_event_id.
	if refreshed, err := s.repo.GetBooking(ctx, b.ID); err == nil {
		res.Booking = refreshed
	}
	return res
}

func (s *Service) transitionFailed(action string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		result = "invalid"
	case errors.Is(err, domain.ErrNotFound):
		result = "not_found"
	case errors.Is(err, domain.ErrSlotUnavailable):
		result = "conflict"
	case errors.Is(err, domain.ErrValidation):
		result = "invalid_input"
	}
	metrics.IncTransition(action, result)
	return err
}

func adminTasks(kind string, subs []models.Subscriber, snap *models.Booking) []*models.OutboxTask {
	out := make([]*models.OutboxTask, 0, len(subs))
	for _, sub := range subs {
		out = append(out, outbox.NotifyTask(notify.Message{
			Kind:    kind,
			Role:    models.RoleAdmin,
			Channel: sub.Channel,
			Address: sub.Address,
			Name:    sub.Name,
			Booking: *snap,
		}))
	}
	return out
}

func clientTask(kind string, snap *models.Booking) *models.OutboxTask {
	return outbox.NotifyTask(notify.Message{
		Kind:    kind,
		Role:    models.RoleClient,
		Channel: models.ChannelEmail,
		Address: snap.ClientEmail,
		Name:    snap.ClientName,
		Booking: *snap,
	})
}
