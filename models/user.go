package models

import "gorm.io/gorm"

// User is the workspace owner. Identities without SMTP credentials send
// through this user's mailbox provider, and the bounce sweep scans this
// user's inbox.
type User struct {
	gorm.Model

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// IMAP access to the user's own inbox for the bounce sweep. Password is
	// encrypted at the application layer.
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"`
	IMAPMailbox  string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// Relations
	Identities []SendingIdentity `gorm:"foreignKey:UserID" json:"identities,omitempty"`
	Campaigns  []Campaign        `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Contacts   []Contact         `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}

// Location resolves the user's timezone, falling back to UTC.
func (u *User) Location() string {
	if u.Timezone == "" {
		return "UTC"
	}
	return u.Timezone
}
