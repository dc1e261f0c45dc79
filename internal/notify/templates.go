package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"studiobook/internal/models"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(kind, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(kind + ".subject").Parse(subject)),
		body:    template.Must(template.New(kind + ".body").Parse(strings.TrimSpace(body))),
	}
}

const bookingDetails = `
Service: {{.Booking.ServiceTypeName}}
Date: {{.Booking.Date}}
Time: {{.Booking.StartTime}} - {{.Booking.EndTime}}`

var templates = map[string]messageTemplate{
	models.KindBookingPending: mustTemplate(models.KindBookingPending,
		`New booking request #{{.Booking.ID}}`, `
A new booking is waiting for confirmation.
`+bookingDetails+`
Client: {{.Booking.ClientName}} <{{.Booking.ClientEmail}}> {{.Booking.ClientPhone}}
{{- if .Booking.Notes}}
Notes: {{.Booking.Notes}}{{end}}
`),
	models.KindBookingConfirmed: mustTemplate(models.KindBookingConfirmed,
		`Booking #{{.Booking.ID}} confirmed`, `
Booking #{{.Booking.ID}} for {{.Booking.ClientName}} is confirmed.
`+bookingDetails+`
`),
	models.KindRequestReceived: mustTemplate(models.KindRequestReceived,
		`We received your booking request`, `
Hello {{.Booking.ClientName}},

thank you for your request. We will confirm it shortly.
`+bookingDetails+`
`),
	models.KindConfirmed: mustTemplate(models.KindConfirmed,
		`Your booking is confirmed`, `
Hello {{.Booking.ClientName}},

your booking is confirmed. See you soon!
`+bookingDetails+`
`),
	models.KindRejected: mustTemplate(models.KindRejected,
		`Your booking request was declined`, `
Hello {{.Booking.ClientName}},

unfortunately we cannot accept your booking request.
`+bookingDetails+`
{{- if .Booking.RejectedReason}}
Reason: {{.Booking.RejectedReason}}{{end}}
`),
	models.KindCancelled: mustTemplate(models.KindCancelled,
		`Your booking was cancelled`, `
Hello {{.Booking.ClientName}},

your booking has been cancelled.
`+bookingDetails+`
`),
}

// Render returns the subject and plain-text body for a message.
func Render(msg Message) (string, string, error) {
	tpl, ok := templates[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q: %w", msg.Kind, ErrUndeliverable)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, msg); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", msg.Kind, err)
	}
	if err := tpl.body.Execute(&body, msg); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", msg.Kind, err)
	}
	return subject.String(), body.String(), nil
}
