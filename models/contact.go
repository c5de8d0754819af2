package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact statuses
const (
	ContactNew              = "new"
	ContactResearched       = "researched"
	ContactOutreachStarted  = "outreach_started"
	ContactReplied          = "replied"
	ContactMeetingScheduled = "meeting_scheduled"
	ContactConverted        = "converted"
	ContactNotInterested    = "not_interested"
	ContactBounced          = "bounced"
)

// Contact is a single outreach target.
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`

	Status string `gorm:"not null;default:'new';index" json:"status"`

	// Provider conversation thread of the latest outreach, used by the reply pass
	ConversationID string `gorm:"index" json:"conversation_id"`

	LastContactedAt *time.Time `json:"last_contacted_at"`
	RepliedAt       *time.Time `json:"replied_at"`

	// Relations
	Outreaches []Outreach `gorm:"foreignKey:ContactID" json:"outreaches,omitempty"`
}
