package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreachly/models"
)

// OutboundMessage is one email to deliver, already rendered.
type OutboundMessage struct {
	From      string
	FromName  string
	To        string
	Subject   string
	HTML      string
	Text      string
	InReplyTo string
}

// Deliverer sends one message and returns the resulting message identifier and
// conversation identifier (empty when the transport has no thread concept).
// The send scheduler depends only on this capability; which variant backs it
// is decided per identity.
type Deliverer interface {
	Deliver(ctx context.Context, msg OutboundMessage) (conversationID, messageID string, err error)
}

// SMTPTransport delivers through the identity's own SMTP server.
type SMTPTransport struct {
	Identity *models.SendingIdentity
}

func NewSMTPTransport(identity *models.SendingIdentity) *SMTPTransport {
	return &SMTPTransport{Identity: identity}
}

func (t *SMTPTransport) Deliver(ctx context.Context, msg OutboundMessage) (string, string, error) {
	password, err := Decrypt(t.Identity.SMTPPassword)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(
		t.Identity.SMTPHost,
		t.Identity.SMTPPort,
		t.Identity.SMTPUsername,
		password,
	)
	dialer.TLSConfig = &tls.Config{ServerName: t.Identity.SMTPHost}
	if strings.EqualFold(t.Identity.Encryption, "SSL") || strings.EqualFold(t.Identity.Encryption, "TLS") {
		dialer.SSL = true
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", msg.FromName, msg.From))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(msg.From))
	m.SetHeader("Message-ID", messageID)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
		m.SetHeader("References", msg.InReplyTo)
	}
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			m.AddAlternative("text/html", msg.HTML)
		}
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	// gomail has no context support; bound the whole dial-and-send so a dead
	// SMTP server cannot hang a trigger.
	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", "", fmt.Errorf("SMTP delivery failed: %w", err)
		}
		return "", messageID, nil
	case <-ctx.Done():
		return "", "", fmt.Errorf("SMTP delivery timed out: %w", ctx.Err())
	}
}

// MailboxTransport delivers through the owning user's mailbox provider. Used
// for identities without SMTP credentials; the provider returns a conversation
// identifier that reply tracking depends on.
type MailboxTransport struct {
	Provider MailboxProvider
	UserID   uint
}

func NewMailboxTransport(provider MailboxProvider, userID uint) *MailboxTransport {
	return &MailboxTransport{Provider: provider, UserID: userID}
}

func (t *MailboxTransport) Deliver(ctx context.Context, msg OutboundMessage) (string, string, error) {
	return t.Provider.SendMessage(ctx, t.UserID, msg.To, msg.Subject, msg.HTML)
}

// IsTemporarySendError reports whether an SMTP failure looks retryable.
func IsTemporarySendError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	tempMarkers := []string{
		"try again",
		"temporary",
		"timeout",
		"421",
		"450",
		"451",
		"452",
	}
	for _, marker := range tempMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

func domainOf(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}
