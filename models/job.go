package models

import (
	"time"

	"gorm.io/gorm"
)

// Job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobDead       = "dead"
)

// Job kinds
const (
	JobKindSendMessage = "send_message"
)

// Job represents one unit of deferred work. A job moves pending -> processing
// only through a conditional update so that two workers can never both claim it.
type Job struct {
	gorm.Model
	JobID   string `gorm:"not null;uniqueIndex" json:"job_id"`
	Kind    string `gorm:"not null;index" json:"kind"`
	Payload string `gorm:"not null" json:"payload"` // opaque reference, e.g. outreach ID

	Status   string `gorm:"not null;default:'pending';index" json:"status"`
	Priority int    `gorm:"default:0;index" json:"priority"` // higher runs first

	Attempts    int    `gorm:"default:0" json:"attempts"`
	MaxAttempts int    `gorm:"default:3" json:"max_attempts"`
	LastError   string `json:"last_error"`

	NotBefore   time.Time  `gorm:"index" json:"not_before"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
