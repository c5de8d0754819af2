package models

import "fmt"

// Legal state transitions, checked centrally instead of ad-hoc string
// comparisons at every write site. Terminal states have no outgoing edges.

var jobTransitions = map[string][]string{
	JobPending:    {JobProcessing},
	JobProcessing: {JobCompleted, JobPending, JobDead},
	JobCompleted:  {},
	JobDead:       {},
}

var outreachTransitions = map[string][]string{
	OutreachScheduled:    {OutreachDraftCreated, OutreachApproved, OutreachCancelled},
	OutreachDraftCreated: {OutreachApproved, OutreachCancelled},
	OutreachApproved:     {OutreachSending, OutreachCancelled},
	OutreachSending:      {OutreachSent, OutreachFailed, OutreachApproved},
	OutreachSent:         {},
	OutreachFailed:       {},
	OutreachCancelled:    {},
}

var contactTransitions = map[string][]string{
	ContactNew:              {ContactResearched, ContactOutreachStarted, ContactBounced},
	ContactResearched:       {ContactOutreachStarted, ContactBounced},
	ContactOutreachStarted:  {ContactReplied, ContactNotInterested, ContactBounced},
	ContactReplied:          {ContactMeetingScheduled, ContactNotInterested, ContactConverted, ContactBounced},
	ContactMeetingScheduled: {ContactConverted, ContactNotInterested, ContactBounced},
	ContactConverted:        {},
	ContactNotInterested:    {},
	ContactBounced:          {},
}

var warmupTransitions = map[string][]string{
	WarmupNew:     {WarmupWarming},
	WarmupWarming: {WarmupReady, WarmupPaused},
	WarmupPaused:  {WarmupWarming},
	WarmupReady:   {WarmupFlagged},
	WarmupFlagged: {},
}

func canTransition(table map[string][]string, from, to string) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckJobTransition validates a job status change.
func CheckJobTransition(from, to string) error {
	if !canTransition(jobTransitions, from, to) {
		return fmt.Errorf("illegal job transition %s -> %s", from, to)
	}
	return nil
}

// CheckOutreachTransition validates an outreach status change.
func CheckOutreachTransition(from, to string) error {
	if !canTransition(outreachTransitions, from, to) {
		return fmt.Errorf("illegal outreach transition %s -> %s", from, to)
	}
	return nil
}

// CheckContactTransition validates a contact status change.
func CheckContactTransition(from, to string) error {
	if !canTransition(contactTransitions, from, to) {
		return fmt.Errorf("illegal contact transition %s -> %s", from, to)
	}
	return nil
}

// CheckWarmupTransition validates a sending identity warmup status change.
func CheckWarmupTransition(from, to string) error {
	if !canTransition(warmupTransitions, from, to) {
		return fmt.Errorf("illegal warmup transition %s -> %s", from, to)
	}
	return nil
}
