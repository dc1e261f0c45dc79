package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studiobook/internal/models"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when the provider no longer has the event.
var ErrEventNotFound = errors.New("calendar event not found")

// Event carries the booking fields pushed to the calendar. Times are wall-clock
// values on Date and are sent with the configured zone name, never converted.
type Event struct {
	Summary     string
	Description string
	Date        models.Date
	Start       models.TimeOfDay
	End         models.TimeOfDay
	Attendee    string
}

// Sync is the calendar collaborator used by the side-effect worker.
type Sync interface {
	// CreateEvent creates the event under eventID. Creating an id that already
	// exists updates it, so retries are safe.
	CreateEvent(ctx context.Context, eventID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, ev Event) error
	// DeleteEvent treats an already missing event as deleted.
	DeleteEvent(ctx context.Context, eventID string) error
}

// NewEventID returns a fresh id in the base32hex alphabet accepted by Google Calendar.
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EventFromBooking builds the calendar payload for a booking.
func EventFromBooking(b *models.Booking) Event {
	service := b.ServiceTypeName
	if service == "" {
		service = fmt.Sprintf("Service #%d", b.ServiceTypeID)
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Booking #%d\n", b.ID)
	fmt.Fprintf(&desc, "Client: %s\n", b.ClientName)
	fmt.Fprintf(&desc, "Email: %s\n", b.ClientEmail)
	if b.ClientPhone != "" {
		fmt.Fprintf(&desc, "Phone: %s\n", b.ClientPhone)
	}
	if b.Notes != "" {
		fmt.Fprintf(&desc, "Notes: %s\n", b.Notes)
	}
	if b.InternalNotes != "" {
		fmt.Fprintf(&desc, "Internal: %s\n", b.InternalNotes)
	}

	return Event{
		Summary:     fmt.Sprintf("%s: %s", service, b.ClientName),
		Description: strings.TrimRight(desc.String(), "\n"),
		Date:        b.Date,
		Start:       b.StartTime,
		End:         b.EndTime,
		Attendee:    b.ClientEmail,
	}
}
