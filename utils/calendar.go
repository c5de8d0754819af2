package utils

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// FindOpenSlot returns the first slot of the given duration inside the search
// range that does not overlap any busy block, aligned to half-hour boundaries.
// Returns the zero time when the range is fully booked.
func FindOpenSlot(busy []BusyBlock, searchStart, searchEnd time.Time, duration time.Duration) time.Time {
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	candidate := searchStart.Truncate(30 * time.Minute)
	if candidate.Before(searchStart) {
		candidate = candidate.Add(30 * time.Minute)
	}

	for !candidate.Add(duration).After(searchEnd) {
		conflict := false
		for _, block := range busy {
			if candidate.Before(block.End) && block.Start.Before(candidate.Add(duration)) {
				conflict = true
				if block.End.After(candidate) {
					candidate = block.End.Truncate(30 * time.Minute)
					if candidate.Before(block.End) {
						candidate = candidate.Add(30 * time.Minute)
					}
				}
				break
			}
		}
		if !conflict {
			return candidate
		}
	}
	return time.Time{}
}

// ScheduleMeeting books the first open slot on the user's calendar within the
// next few business days and invites the contact.
func ScheduleMeeting(ctx context.Context, provider MailboxProvider, userID uint, attendee, subject string) (string, time.Time, error) {
	searchStart := time.Now().Add(24 * time.Hour)
	searchEnd := searchStart.Add(5 * 24 * time.Hour)

	busy, err := provider.ListCalendarBusy(ctx, userID, searchStart, searchEnd)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to list calendar busy blocks: %w", err)
	}

	slot := FindOpenSlot(busy, searchStart, searchEnd, 30*time.Minute)
	if slot.IsZero() {
		return "", time.Time{}, fmt.Errorf("no open calendar slot in the next 5 days")
	}

	eventID, err := provider.CreateEvent(ctx, userID, CalendarEvent{
		Subject:  subject,
		Start:    slot,
		End:      slot.Add(30 * time.Minute),
		Attendee: attendee,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create calendar event: %w", err)
	}
	return eventID, slot, nil
}
