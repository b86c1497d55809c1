package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sterilization-gateway/internal/config"
	"sterilization-gateway/internal/models"
	"sterilization-gateway/pkg/email"
)

// Email sends notifications over SMTP to the contact point's "email" address.
type Email struct {
	server   string
	port     int
	username string
	password string
	fromName string

	send func(server string, port int, username, password string, m email.Message) error
}

func NewEmail(cfg config.Config) *Email {
	return &Email{
		server:   cfg.Email.SMTPServer,
		port:     cfg.Email.SMTPPort,
		username: cfg.Email.Username,
		password: cfg.Email.Password,
		fromName: cfg.Email.FromName,
		send:     email.Send,
	}
}

func (e *Email) Send(ctx context.Context, n models.Notification, cp models.ContactPoint) error {
	to := configString(cp, "email")
	if to == "" {
		return fmt.Errorf("email not set in configuration for contact point %s", uuid.UUID(cp.ID))
	}
	if e.server == "" || e.port == 0 || e.username == "" || e.password == "" {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := email.Message{
		FromName: e.fromName,
		From:     e.username,
		To:       to,
		Subject:  n.Subject,
		Body:     fmt.Sprintf("%s\n\nCycle: %s\nSeverity: %s", n.Body, n.CycleID, n.Severity),
	}
	if err := e.send(e.server, e.port, e.username, e.password, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
