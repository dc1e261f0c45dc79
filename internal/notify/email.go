package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends plain-text mail over SMTP.
type EmailNotifier struct {
	client mailSender
	from   string
	logger *zerolog.Logger
}

func NewEmailNotifier(cfg EmailConfig, logger *zerolog.Logger) (*EmailNotifier, error) {
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &EmailNotifier{client: client, from: cfg.From, logger: logger}, nil
}

func (e *EmailNotifier) buildMessage(msg Message) (*mail.Msg, error) {
	subject, body, err := Render(msg)
	if err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if msg.Name != "" {
		err = m.AddToFormat(msg.Name, msg.Address)
	} else {
		err = m.To(msg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %v: %w", msg.Address, err, ErrUndeliverable)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (e *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	m, err := e.buildMessage(msg)
	if err != nil {
		return err
	}
	if err := e.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	e.logger.Info().Str("kind", msg.Kind).Str("to", msg.Address).Msg("Email sent")
	return nil
}
