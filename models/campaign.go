package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign groups outreach under one offer/sequence and carries the sending
// policy its messages follow.
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Status      string     `gorm:"default:'draft'" json:"status"` // draft, active, paused, completed
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Follow-up cadence in days after the initial send. Zero disables the slot.
	FollowUp1Days int `gorm:"default:5" json:"follow_up_1_days"`
	FollowUp2Days int `gorm:"default:14" json:"follow_up_2_days"`

	// Sending window in local hours [start, end). Zero values fall back to the
	// configured defaults.
	WindowStart int `gorm:"default:0" json:"window_start"`
	WindowEnd   int `gorm:"default:0" json:"window_end"`

	// Statistics (denormalized for dashboards, not consulted by the scheduler)
	SentCount   int `gorm:"default:0" json:"sent_count"`
	ReplyCount  int `gorm:"default:0" json:"reply_count"`
	BounceCount int `gorm:"default:0" json:"bounce_count"`

	// Relations
	Outreaches []Outreach `gorm:"foreignKey:CampaignID" json:"outreaches,omitempty"`
}

// Window returns the campaign's sending window, substituting the provided
// defaults when the campaign does not set its own.
func (c *Campaign) Window(defaultStart, defaultEnd int) (int, int) {
	if c.WindowStart == 0 && c.WindowEnd == 0 {
		return defaultStart, defaultEnd
	}
	return c.WindowStart, c.WindowEnd
}
