package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northpeak/studio/libs/config"
)

// Attachment is sent base64 encoded by every provider.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          string
	ToName      string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("mail: subject is required")
	}
	if m.Text == "" && m.HTML == "" {
		return errors.New("mail: body is required")
	}
	return nil
}

// Identity is the sender identity shared by all providers.
type Identity struct {
	FromEmail string
	FromName  string
}

// FromEnv picks a provider from EMAIL_PROVIDER (sendgrid, smtp or stub).
func FromEnv(logger *slog.Logger) (Sender, error) {
	id := Identity{
		FromEmail: config.String("EMAIL_FROM", "hello@studio.local"),
		FromName:  config.String("EMAIL_FROM_NAME", "Studio"),
	}
	switch provider := strings.ToLower(config.String("EMAIL_PROVIDER", "stub")); provider {
	case "sendgrid":
		key, err := config.RequiredString("SENDGRID_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewSendGridSender(key, id, logger), nil
	case "smtp":
		return NewSMTPSender(SMTPConfig{
			Host:     config.String("SMTP_HOST", "mailpit"),
			Port:     config.String("SMTP_PORT", "1025"),
			Username: config.String("SMTP_USERNAME", ""),
			Password: config.String("SMTP_PASSWORD", ""),
		}, id), nil
	case "stub":
		return NewStubSender(logger), nil
	default:
		return nil, fmt.Errorf("mail: unknown EMAIL_PROVIDER %q", provider)
	}
}
