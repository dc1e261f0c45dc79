package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"studiobook/internal/calendar"
	"studiobook/internal/domain"
	"studiobook/internal/models"
	"studiobook/internal/notify"

	"github.com/rs/zerolog"
)

// CalendarPayload is stored with calendar tasks.
type CalendarPayload struct {
	EventID string `json:"event_id"`
}

// CalendarTask builds a calendar task for the given event id.
func CalendarTask(taskType, eventID string) *models.OutboxTask {
	data, _ := json.Marshal(CalendarPayload{EventID: eventID})
	return &models.OutboxTask{TaskType: taskType, Payload: string(data)}
}

// NotifyTask serialises a notification into a task.
func NotifyTask(msg notify.Message) *models.OutboxTask {
	data, _ := json.Marshal(msg)
	return &models.OutboxTask{TaskType: models.TaskNotify, Payload: string(data)}
}

// BookingStore is what the calendar handler needs from the database.
type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	SetCalendarEventID(ctx context.Context, id int64, eventID string) (bool, error)
}

// CalendarHandler keeps calendar events in step with bookings. It reads the
// current booking rather than the state at enqueue time.
type CalendarHandler struct {
	bookings BookingStore
	calendar calendar.Sync
	logger   *zerolog.Logger
}

func NewCalendarHandler(bookings BookingStore, cal calendar.Sync, logger *zerolog.Logger) *CalendarHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CalendarHandler{bookings: bookings, calendar: cal, logger: logger}
}

// Register installs the three calendar task types on d.
func (h *CalendarHandler) Register(d *Dispatcher) {
	d.Register(models.TaskCalendarCreate, HandlerFunc(h.create))
	d.Register(models.TaskCalendarUpdate, HandlerFunc(h.update))
	d.Register(models.TaskCalendarDelete, HandlerFunc(h.delete))
}

func decodeCalendar(task models.OutboxTask) (CalendarPayload, error) {
	var p CalendarPayload
	if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
		return p, Permanent(fmt.Errorf("decode calendar payload: %w", err))
	}
	if p.EventID == "" {
		return p, Permanent(errors.New("calendar payload has no event id"))
	}
	return p, nil
}

func (h *CalendarHandler) create(ctx context.Context, task models.OutboxTask) error {
	p, err := decodeCalendar(task)
	if err != nil {
		return err
	}

	b, err := h.bookings.GetBooking(ctx, task.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		// Deleted before sync; make sure no event from an earlier attempt remains.
		return h.calendar.DeleteEvent(ctx, p.EventID)
	}
	if err != nil {
		return err
	}
	if b.Status != models.StatusConfirmed {
		h.logger.Info().Int64("booking_id", b.ID).Str("status", b.Status).Msg("Booking no longer confirmed, calendar create skipped")
		return nil
	}
	if b.CalendarEventID != "" && b.CalendarEventID != p.EventID {
		return h.push(ctx, b)
	}

	eventID, err := h.calendar.CreateEvent(ctx, p.EventID, calendar.EventFromBooking(b))
	if err != nil {
		return err
	}

	stored, err := h.bookings.SetCalendarEventID(ctx, b.ID, eventID)
	if err != nil {
		return err
	}
	if !stored {
		h.logger.Info().Int64("booking_id", b.ID).Str("event_id", eventID).Msg("Booking vanished during sync, removing event")
		return h.calendar.DeleteEvent(ctx, eventID)
	}
	return nil
}

func (h *CalendarHandler) update(ctx context.Context, task models.OutboxTask) error {
	b, err := h.bookings.GetBooking(ctx, task.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.CalendarEventID == "" {
		return nil
	}
	return h.push(ctx, b)
}

// push updates the stored event, recreating it when it was removed on the
// calendar side.
func (h *CalendarHandler) push(ctx context.Context, b *models.Booking) error {
	err := h.calendar.UpdateEvent(ctx, b.CalendarEventID, calendar.EventFromBooking(b))
	if !errors.Is(err, calendar.ErrEventNotFound) {
		return err
	}

	eventID, err := h.calendar.CreateEvent(ctx, calendar.NewEventID(), calendar.EventFromBooking(b))
	if err != nil {
		return err
	}
	if _, err := h.bookings.SetCalendarEventID(ctx, b.ID, eventID); err != nil {
		return err
	}
	h.logger.Warn().Int64("booking_id", b.ID).Str("event_id", eventID).Msg("Calendar event recreated")
	return nil
}

func (h *CalendarHandler) delete(ctx context.Context, task models.OutboxTask) error {
	p, err := decodeCalendar(task)
	if err != nil {
		return err
	}
	return h.calendar.DeleteEvent(ctx, p.EventID)
}

// NotifyHandler delivers notify tasks.
func NotifyHandler(n notify.Notifier) Handler {
	return HandlerFunc(func(ctx context.Context, task models.OutboxTask) error {
		var msg notify.Message
		if err := json.Unmarshal([]byte(task.Payload), &msg); err != nil {
			return Permanent(fmt.Errorf("decode notification: %w", err))
		}
		if err := n.Notify(ctx, msg); err != nil {
			if errors.Is(err, notify.ErrUndeliverable) {
				return Permanent(err)
			}
			return err
		}
		return nil
	})
}
