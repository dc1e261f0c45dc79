package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// wallClockLayout has no offset: Google applies TimeZone to it.
const wallClockLayout = "2006-01-02T15:04:05"

// GoogleCalendar writes booking events to one Google calendar.
type GoogleCalendar struct {
	service    *gcal.Service
	calendarID string
	timeZone   string
	logger     *zerolog.Logger
}

// NewGoogleCalendar authenticates with a service-account credentials file.
func NewGoogleCalendar(ctx context.Context, credentialsFile, calendarID, timeZone string, logger *zerolog.Logger) (*GoogleCalendar, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	return NewGoogleCalendarWithOptions(ctx, calendarID, timeZone, logger, option.WithCredentials(creds))
}

// NewGoogleCalendarWithOptions builds the client from raw API options.
func NewGoogleCalendarWithOptions(ctx context.Context, calendarID, timeZone string, logger *zerolog.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if timeZone == "" {
		timeZone = "UTC"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &GoogleCalendar{service: svc, calendarID: calendarID, timeZone: timeZone, logger: logger}, nil
}

func (g *GoogleCalendar) toGoogle(eventID string, ev Event) *gcal.Event {
	out := &gcal.Event{
		Id:          eventID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: wallClock(ev.Date, ev.Start),
			TimeZone: g.timeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: wallClock(ev.Date, ev.End),
			TimeZone: g.timeZone,
		},
	}
	if ev.Attendee != "" {
		out.Attendees = []*gcal.EventAttendee{{Email: ev.Attendee}}
	}
	return out
}

func wallClock(d models.Date, t models.TimeOfDay) string {
	return t.On(d, nil).Format(wallClockLayout)
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, eventID string, ev Event) (string, error) {
	created, err := g.service.Events.Insert(g.calendarID, g.toGoogle(eventID, ev)).Context(ctx).Do()
	if err == nil {
		g.logger.Info().Str("event_id", created.Id).Msg("Calendar event created")
		return created.Id, nil
	}

	if apiStatus(err) == http.StatusConflict {
		// A previous attempt created it before failing to report back.
		if err := g.UpdateEvent(ctx, eventID, ev); err != nil {
			return "", err
		}
		return eventID, nil
	}
	return "", fmt.Errorf("insert calendar event: %w", err)
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, eventID string, ev Event) error {
	_, err := g.service.Events.Update(g.calendarID, eventID, g.toGoogle(eventID, ev)).Context(ctx).Do()
	if err != nil {
		switch apiStatus(err) {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("update %s: %w", eventID, ErrEventNotFound)
		}
		return fmt.Errorf("update calendar event: %w", err)
	}
	g.logger.Info().Str("event_id", eventID).Msg("Calendar event updated")
	return nil
}

func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := g.service.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		switch apiStatus(err) {
		case http.StatusNotFound, http.StatusGone:
			g.logger.Debug().Str("event_id", eventID).Msg("Calendar event already gone")
			return nil
		}
		return fmt.Errorf("delete calendar event: %w", err)
	}
	g.logger.Info().Str("event_id", eventID).Msg("Calendar event deleted")
	return nil
}

func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
