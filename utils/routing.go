package utils

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"outreachly/models"
)

// ErrNoIdentityAvailable means every identity of the workspace is either not
// ready or saturated for the day. The scheduler treats this as a deferral.
var ErrNoIdentityAvailable = errors.New("no sending identity available")

// IdentityRouter picks the sending identity for an outreach.
type IdentityRouter struct {
	DB *gorm.DB
}

func NewIdentityRouter(db *gorm.DB) *IdentityRouter {
	return &IdentityRouter{DB: db}
}

// SelectIdentity returns the healthiest READY identity of the workspace that
// still has capacity today. Daily usage is recomputed from sent outreach on
// every call instead of trusting a cached counter.
func (r *IdentityRouter) SelectIdentity(userID uint) (*models.SendingIdentity, error) {
	var identities []models.SendingIdentity
	if err := r.DB.Where("user_id = ? AND warmup_status = ?", userID, models.WarmupReady).
		Order("health_score DESC").
		Find(&identities).Error; err != nil {
		return nil, err
	}

	for i := range identities {
		sent, err := r.SentToday(identities[i].ID, time.Now())
		if err != nil {
			return nil, err
		}
		if sent < int64(identities[i].DailyLimit) {
			return &identities[i], nil
		}
	}

	return nil, ErrNoIdentityAvailable
}

// SentToday counts the identity's outreach sent during the calendar day of ref.
func (r *IdentityRouter) SentToday(identityID uint, ref time.Time) (int64, error) {
	dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int64
	err := r.DB.Model(&models.Outreach{}).
		Where("identity_id = ? AND status = ? AND sent_at >= ? AND sent_at < ?",
			identityID, models.OutreachSent, dayStart, dayEnd).
		Count(&count).Error
	return count, err
}
