package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calendarStub backs ScheduleMeeting tests with canned busy blocks.
type calendarStub struct {
	busy    []BusyBlock
	created []CalendarEvent
}

func (s *calendarStub) SendMessage(ctx context.Context, userID uint, to, subject, html string) (string, string, error) {
	return "", "", nil
}

func (s *calendarStub) ListConversationMessages(ctx context.Context, userID uint, conversationID string) ([]ProviderMessage, error) {
	return nil, nil
}

func (s *calendarStub) ListCalendarBusy(ctx context.Context, userID uint, start, end time.Time) ([]BusyBlock, error) {
	return s.busy, nil
}

func (s *calendarStub) CreateEvent(ctx context.Context, userID uint, event CalendarEvent) (string, error) {
	s.created = append(s.created, event)
	return "event-1", nil
}

func (s *calendarStub) RefreshAuth(ctx context.Context, userID uint) error {
	return nil
}

func TestFindOpenSlotEmptyCalendar(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	slot := FindOpenSlot(nil, start, end, 30*time.Minute)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), slot,
		"first half-hour boundary at or after the search start")
}

func TestFindOpenSlotSkipsConflicts(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	busy := []BusyBlock{
		{Start: start, End: start.Add(45 * time.Minute)},
		{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}

	slot := FindOpenSlot(busy, start, end, 30*time.Minute)
	assert.Equal(t, start.Add(2*time.Hour), slot)
}

func TestFindOpenSlotFullyBooked(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	busy := []BusyBlock{{Start: start, End: end}}

	slot := FindOpenSlot(busy, start, end, 30*time.Minute)
	assert.True(t, slot.IsZero())
}

func TestScheduleMeetingCreatesEvent(t *testing.T) {
	stub := &calendarStub{}

	eventID, slot, err := ScheduleMeeting(context.Background(), stub, 1, "prospect@example.com", "Intro call")
	require.NoError(t, err)
	assert.Equal(t, "event-1", eventID)
	assert.False(t, slot.IsZero())

	require.Len(t, stub.created, 1)
	event := stub.created[0]
	assert.Equal(t, "Intro call", event.Subject)
	assert.Equal(t, "prospect@example.com", event.Attendee)
	assert.Equal(t, 30*time.Minute, event.End.Sub(event.Start))
}
