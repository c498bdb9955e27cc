package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailSender delivers notifications through SendGrid.
type EmailSender struct {
	client   mailClient
	fromName string
	fromAddr string
}

// NewEmailSender returns nil when apiKey or fromAddr is empty.
func NewEmailSender(apiKey, fromName, fromAddr string) *EmailSender {
	if apiKey == "" || fromAddr == "" {
		return nil
	}
	return &EmailSender{client: sendgrid.NewSendClient(apiKey), fromName: fromName, fromAddr: fromAddr}
}

func (s *EmailSender) CanReach(user subscription.User) bool {
	return user.Email != ""
}

func (s *EmailSender) Send(ctx context.Context, user subscription.User, msg Message) error {
	if !s.CanReach(user) {
		return ErrNoEndpoint
	}
	text := msg.Body
	if msg.TargetURL != "" {
		text = fmt.Sprintf("%s\n\n%s", msg.Body, msg.TargetURL)
	}
	from := mail.NewEmail(s.fromName, s.fromAddr)
	to := mail.NewEmail("", user.Email)
	message := mail.NewSingleEmail(from, msg.Title, to, text, text)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
