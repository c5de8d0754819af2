package models

import (
	"time"

	"gorm.io/gorm"
)

// Outreach types
const (
	OutreachInitial        = "initial"
	OutreachFollowUp1      = "followup_1"
	OutreachFollowUp2      = "followup_2"
	OutreachMeetingRequest = "meeting_request"
	OutreachReply          = "reply"
)

// Outreach statuses
const (
	OutreachScheduled    = "scheduled"
	OutreachDraftCreated = "draft_created"
	OutreachApproved     = "approved"
	OutreachSending      = "sending"
	OutreachSent         = "sent"
	OutreachFailed       = "failed"
	OutreachCancelled    = "cancelled"
)

// Outreach is a single email instance aimed at a contact. Follow-ups reference
// their parent through ParentID and may only send once the parent is sent.
type Outreach struct {
	gorm.Model
	ContactID  uint  `gorm:"not null;index" json:"contact_id"`
	CampaignID uint  `gorm:"not null;index" json:"campaign_id"`
	IdentityID *uint `gorm:"index" json:"identity_id"` // assigned at dispatch time
	ParentID   *uint `gorm:"index" json:"parent_id"`

	Type   string `gorm:"not null;index" json:"type"`
	Status string `gorm:"not null;default:'scheduled';index" json:"status"`

	Subject  string `json:"subject"`
	BodyHTML string `gorm:"type:text" json:"body_html"`
	BodyText string `gorm:"type:text" json:"body_text"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at"`

	// Set after dispatch for reply tracking
	MessageID      string `gorm:"index" json:"message_id"`
	ConversationID string `gorm:"index" json:"conversation_id"`

	ReplyBody      string `gorm:"type:text" json:"reply_body"`
	ReplySentiment string `json:"reply_sentiment"`
	SuggestedReply string `gorm:"type:text" json:"suggested_reply"`

	LastError string `json:"last_error"`

	// Relations
	Contact  Contact  `json:"-"`
	Campaign Campaign `json:"-"`
}

// IsTerminal reports whether the outreach can no longer transition.
func (o *Outreach) IsTerminal() bool {
	switch o.Status {
	case OutreachSent, OutreachFailed, OutreachCancelled:
		return true
	}
	return false
}
