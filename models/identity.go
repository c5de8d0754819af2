package models

import (
	"time"

	"gorm.io/gorm"
)

// Warmup statuses for a sending identity
const (
	WarmupNew     = "new"
	WarmupWarming = "warming"
	WarmupReady   = "ready"
	WarmupPaused  = "paused"
	WarmupFlagged = "flagged"
)

// SendingIdentity is an email address plus delivery credentials used as the
// "from" of outreach. Identities with SMTP credentials deliver directly; the
// rest fall back to the owning user's mailbox provider.
type SendingIdentity struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Address  string `gorm:"not null;index" json:"address"`
	FromName string `gorm:"not null" json:"from_name"`

	// SMTP configuration. Password is encrypted at the application layer.
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"` // SSL, TLS, STARTTLS

	// Warmup state. DailyLimit is derived from WarmupDay, never set by hand.
	WarmupStatus string `gorm:"not null;default:'new';index" json:"warmup_status"`
	WarmupDay    int    `gorm:"default:0" json:"warmup_day"`
	DailyLimit   int    `gorm:"default:0" json:"daily_limit"`

	// HealthScore is recomputed from the cumulative bounce ratio after each
	// warmup batch; 100 means no bounces on record.
	HealthScore  int `gorm:"default:100" json:"health_score"`
	TotalSent    int `gorm:"default:0" json:"total_sent"`
	TotalBounced int `gorm:"default:0" json:"total_bounced"`

	LastError *string `json:"last_error"`

	// Relations
	WarmupLogs []WarmupLog `gorm:"foreignKey:IdentityID" json:"warmup_logs,omitempty"`
}

// HasSMTPCredentials reports whether the identity can deliver over its own
// transport instead of the owner's mailbox provider.
func (s *SendingIdentity) HasSMTPCredentials() bool {
	return s.SMTPHost != "" && s.SMTPUsername != ""
}

// WarmupLog is one row per (identity, calendar day) of warmup traffic.
// Append-only except for same-day upserts.
type WarmupLog struct {
	gorm.Model
	IdentityID uint      `gorm:"not null;index:idx_warmup_identity_day,unique" json:"identity_id"`
	Day        time.Time `gorm:"not null;index:idx_warmup_identity_day,unique" json:"day"`

	EmailsSent  int `gorm:"default:0" json:"emails_sent"`
	Bounces     int `gorm:"default:0" json:"bounces"`
	HealthScore int `gorm:"default:0" json:"health_score"`
}
