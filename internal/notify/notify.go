package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// ErrUndeliverable marks failures that will not succeed on retry, such as a
// malformed address or a recipient that blocked the bot.
var ErrUndeliverable = errors.New("notification undeliverable")

// Message is one notification to one recipient. Booking is the snapshot taken
// when the notification was queued.
type Message struct {
	Kind    string         `json:"kind"`
	Role    string         `json:"role"`
	Channel string         `json:"channel"`
	Address string         `json:"address"`
	Name    string         `json:"name,omitempty"`
	Booking models.Booking `json:"booking"`
}

// Notifier delivers a message over one channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Router picks the notifier registered for the message channel.
type Router struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	logger    *zerolog.Logger
}

func NewRouter(logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{notifiers: make(map[string]Notifier), logger: logger}
}

// Register binds a channel name to a notifier, replacing any previous one.
func (r *Router) Register(channel string, n Notifier) {
	r.mu.Lock()
	r.notifiers[channel] = n
	r.mu.Unlock()
}

func (r *Router) Notify(ctx context.Context, msg Message) error {
	r.mu.RLock()
	n, ok := r.notifiers[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no notifier for channel %q: %w", msg.Channel, ErrUndeliverable)
	}

	if err := n.Notify(ctx, msg); err != nil {
		return fmt.Errorf("%s via %s: %w", msg.Kind, msg.Channel, err)
	}

	r.logger.Debug().
		Str("kind", msg.Kind).
		Str("channel", msg.Channel).
		Int64("booking_id", msg.Booking.ID).
		Msg("Notification delivered")
	return nil
}

// Log writes rendered notifications to the logger. Used when no real
// channel is configured.
type Log struct {
	logger *zerolog.Logger
}

func NewLog(logger *zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	l.logger.Info().
		Str("kind", msg.Kind).
		Str("to", msg.Address).
		Str("subject", subject).
		Str("body", body).
		Msg("Notification")
	return nil
}
