package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderMessage is one message of a conversation thread, excluding messages
// authored by the mailbox owner.
type ProviderMessage struct {
	From       string
	Body       string
	ReceivedAt time.Time
}

// BusyBlock is a busy interval on the user's calendar.
type BusyBlock struct {
	Start time.Time
	End   time.Time
}

// CalendarEvent describes an event to create on the user's calendar.
type CalendarEvent struct {
	Subject  string
	Start    time.Time
	End      time.Time
	Attendee string
}

// MailboxProvider is the mailbox/calendar collaborator (Gmail, Microsoft 365,
// ...). Implementations must return RateLimitError and AuthExpiredError for
// those conditions so callers can tell provider throttling apart from broken
// credentials.
type MailboxProvider interface {
	SendMessage(ctx context.Context, userID uint, to, subject, html string) (conversationID, messageID string, err error)
	ListConversationMessages(ctx context.Context, userID uint, conversationID string) ([]ProviderMessage, error)
	ListCalendarBusy(ctx context.Context, userID uint, start, end time.Time) ([]BusyBlock, error)
	CreateEvent(ctx context.Context, userID uint, event CalendarEvent) (eventID string, err error)
	RefreshAuth(ctx context.Context, userID uint) error
}

// ErrProviderNotConfigured is returned by UnconfiguredProvider for every call.
var ErrProviderNotConfigured = errors.New("mailbox provider not configured")

// UnconfiguredProvider backs SMTP-only deployments. Every call fails cleanly
// with ErrProviderNotConfigured, so identities without SMTP credentials fail
// their send jobs instead of panicking on a nil collaborator.
type UnconfiguredProvider struct{}

func (UnconfiguredProvider) SendMessage(ctx context.Context, userID uint, to, subject, html string) (string, string, error) {
	return "", "", ErrProviderNotConfigured
}

func (UnconfiguredProvider) ListConversationMessages(ctx context.Context, userID uint, conversationID string) ([]ProviderMessage, error) {
	return nil, ErrProviderNotConfigured
}

func (UnconfiguredProvider) ListCalendarBusy(ctx context.Context, userID uint, start, end time.Time) ([]BusyBlock, error) {
	return nil, ErrProviderNotConfigured
}

func (UnconfiguredProvider) CreateEvent(ctx context.Context, userID uint, event CalendarEvent) (string, error) {
	return "", ErrProviderNotConfigured
}

func (UnconfiguredProvider) RefreshAuth(ctx context.Context, userID uint) error {
	return ErrProviderNotConfigured
}

// RateLimitError signals provider throttling, with an optional retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// AuthExpiredError signals that the user's provider token must be refreshed
// before the call can succeed.
type AuthExpiredError struct {
	UserID uint
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("provider auth expired for user %d", e.UserID)
}

// IsRateLimited extracts the rate-limit error, if any, from err's chain.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsAuthExpired reports whether err is an expired-auth condition.
func IsAuthExpired(err error) bool {
	var aee *AuthExpiredError
	return errors.As(err, &aee)
}
