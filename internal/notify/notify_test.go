package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"studiobook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func sampleBooking() models.Booking {
	return models.Booking{
		ID:              12,
		ServiceTypeName: "Portrait",
		ClientName:      "Ada Lovelace",
		ClientEmail:     "ada@example.com",
		ClientPhone:     "+15550001111",
		Date:            models.MustDate("2025-06-10"),
		StartTime:       models.MustTimeOfDay("10:00"),
		EndTime:         models.MustTimeOfDay("11:00"),
		Status:          models.StatusPending,
	}
}

func TestRender(t *testing.T) {
	b := sampleBooking()

	tests := []struct {
		kind    string
		subject string
		body    []string
	}{
		{models.KindBookingPending, "New booking request #12", []string{"waiting for confirmation", "ada@example.com"}},
		{models.KindBookingConfirmed, "Booking #12 confirmed", []string{"Ada Lovelace is confirmed"}},
		{models.KindRequestReceived, "We received your booking request", []string{"confirm it shortly"}},
		{models.KindConfirmed, "Your booking is confirmed", []string{"See you soon"}},
		{models.KindRejected, "Your booking request was declined", []string{"cannot accept"}},
		{models.KindCancelled, "Your booking was cancelled", []string{"has been cancelled"}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			subject, body, err := Render(Message{Kind: tt.kind, Booking: b})
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			assert.Contains(t, body, "Date: 2025-06-10")
			assert.Contains(t, body, "Time: 10:00 - 11:00")
			for _, want := range tt.body {
				assert.Contains(t, body, want)
			}
		})
	}

	t.Run("rejection reason", func(t *testing.T) {
		rejected := b
		_, body, err := Render(Message{Kind: models.KindRejected, Booking: rejected})
		require.NoError(t, err)
		assert.NotContains(t, body, "Reason:")

		rejected.RejectedReason = "Studio closed for renovation"
		_, body, err = Render(Message{Kind: models.KindRejected, Booking: rejected})
		require.NoError(t, err)
		assert.Contains(t, body, "Reason: Studio closed for renovation")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, err := Render(Message{Kind: "birthday"})
		assert.True(t, errors.Is(err, ErrUndeliverable))
	})
}

type recordingNotifier struct {
	mock.Mock
}

func (r *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	return r.Called(ctx, msg).Error(0)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	email := new(recordingNotifier)
	router := NewRouter(nil)
	router.Register(models.ChannelEmail, email)

	msg := Message{Kind: models.KindConfirmed, Channel: models.ChannelEmail, Address: "ada@example.com", Booking: sampleBooking()}
	email.On("Notify", ctx, msg).Return(nil).Once()
	require.NoError(t, router.Notify(ctx, msg))

	email.On("Notify", ctx, mock.Anything).Return(errors.New("smtp timeout")).Once()
	err := router.Notify(ctx, msg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUndeliverable))

	msg.Channel = "pigeon"
	assert.True(t, errors.Is(router.Notify(ctx, msg), ErrUndeliverable))
	email.AssertExpectations(t)
}

type fakeMailer struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeMailer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.sent = append(f.sent, messages...)
	return f.err
}

func TestEmailNotifier(t *testing.T) {
	logger := zerolog.New(io.Discard)
	mailer := &fakeMailer{}
	n := &EmailNotifier{client: mailer, from: "studio@example.com", logger: &logger}
	ctx := context.Background()

	err := n.Notify(ctx, Message{Kind: models.KindConfirmed, Address: "ada@example.com", Name: "Ada", Booking: sampleBooking()})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)

	m := mailer.sent[0]
	assert.Equal(t, []string{"Your booking is confirmed"}, m.GetGenHeader(mail.HeaderSubject))
	rcpts, err := m.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, rcpts)

	t.Run("bad address is permanent", func(t *testing.T) {
		err := n.Notify(ctx, Message{Kind: models.KindConfirmed, Address: "not an address", Booking: sampleBooking()})
		assert.True(t, errors.Is(err, ErrUndeliverable))
		assert.Len(t, mailer.sent, 1)
	})

	t.Run("smtp failure is retryable", func(t *testing.T) {
		mailer.err = errors.New("connection refused")
		err := n.Notify(ctx, Message{Kind: models.KindConfirmed, Address: "ada@example.com", Booking: sampleBooking()})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUndeliverable))
	})
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, logger: &logger}
	ctx := context.Background()

	msg := Message{Kind: models.KindBookingPending, Channel: models.ChannelTelegram, Address: "123456", Booking: sampleBooking()}
	require.NoError(t, n.Notify(ctx, msg))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(123456), bot.sent[0].ChatID)
	assert.True(t, strings.HasPrefix(bot.sent[0].Text, "New booking request #12"))

	t.Run("invalid chat id", func(t *testing.T) {
		bad := msg
		bad.Address = "@studio"
		assert.True(t, errors.Is(n.Notify(ctx, bad), ErrUndeliverable))
	})

	t.Run("blocked bot", func(t *testing.T) {
		bot.err = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
		assert.True(t, errors.Is(n.Notify(ctx, msg), ErrUndeliverable))
	})

	t.Run("rate limited", func(t *testing.T) {
		bot.err = &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
		err := n.Notify(ctx, msg)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUndeliverable))
	})
}

func TestLog(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf)
	n := NewLog(&logger)

	require.NoError(t, n.Notify(context.Background(), Message{Kind: models.KindCancelled, Address: "ada@example.com", Booking: sampleBooking()}))
	assert.Contains(t, buf.String(), "Your booking was cancelled")
}
