package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// Warmup ramp: target sends per day by warmup week. After the last stage the
// identity goes READY with its limit fixed at rampCompleteLimit.
var warmupStages = []struct {
	lastDay int
	minSend int
	maxSend int
}{
	{7, 2, 3},
	{14, 5, 8},
	{21, 10, 15},
	{28, 15, 20},
}

const rampCompleteDay = 28
const rampCompleteLimit = 20

// WarmupEngine advances WARMING identities one day per cycle, exchanging
// synthetic traffic between sibling identities of the same workspace to build
// sender reputation. It is the sole writer of identity warmup fields and of
// WarmupLog.
type WarmupEngine struct {
	DB     *gorm.DB
	Logger *logrus.Entry

	// pacing gap between synthetic sends; tests shrink this
	MinPause time.Duration
	MaxPause time.Duration
}

func NewWarmupEngine(db *gorm.DB) *WarmupEngine {
	return &WarmupEngine{
		DB:       db,
		Logger:   logrus.WithField("component", "warmup_engine"),
		MinPause: time.Second,
		MaxPause: 3 * time.Second,
	}
}

// RunDailyCycle processes every WARMING identity once. A single identity's
// failure is recorded and does not abort the batch.
func (we *WarmupEngine) RunDailyCycle(ctx context.Context) error {
	var warming []models.SendingIdentity
	if err := we.DB.Where("warmup_status = ?", models.WarmupWarming).Find(&warming).Error; err != nil {
		return fmt.Errorf("failed to fetch warming identities: %w", err)
	}

	for i := range warming {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := we.processIdentity(ctx, &warming[i]); err != nil {
			we.Logger.WithError(err).WithField("identity", warming[i].Address).
				Error("warmup cycle failed for identity")
			we.DB.Model(&warming[i]).Update("last_error", err.Error())
		}
	}
	return nil
}

func (we *WarmupEngine) processIdentity(ctx context.Context, identity *models.SendingIdentity) error {
	log := we.Logger.WithFields(logrus.Fields{
		"identity": identity.Address,
		"day":      identity.WarmupDay + 1,
	})

	day := identity.WarmupDay + 1
	if day > rampCompleteDay {
		return we.completeRamp(identity, log)
	}

	siblings, err := we.siblingIdentities(identity)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		// Synthetic traffic needs at least two identities in the workspace.
		// The day counter stays put: an idle day builds no reputation.
		log.Warn("no sibling identities, skipping warmup cycle")
		return nil
	}

	target := we.dailyTarget(day)
	sent, bounced := we.sendSyntheticBatch(ctx, identity, siblings, target, log)

	health := HealthScore(identity.TotalSent+sent, identity.TotalBounced+bounced)

	if err := we.DB.Model(identity).Updates(map[string]interface{}{
		"warmup_day":    day,
		"daily_limit":   DailyLimitForDay(day),
		"total_sent":    gorm.Expr("total_sent + ?", sent),
		"total_bounced": gorm.Expr("total_bounced + ?", bounced),
		"health_score":  health,
	}).Error; err != nil {
		return fmt.Errorf("failed to advance warmup day: %w", err)
	}
	identity.WarmupDay = day
	identity.HealthScore = health

	if err := we.upsertLog(identity.ID, sent, bounced, health); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"sent": sent, "health": health}).Info("warmup day complete")
	return nil
}

func (we *WarmupEngine) completeRamp(identity *models.SendingIdentity, log *logrus.Entry) error {
	if err := models.CheckWarmupTransition(identity.WarmupStatus, models.WarmupReady); err != nil {
		return err
	}
	if err := we.DB.Model(identity).Updates(map[string]interface{}{
		"warmup_status": models.WarmupReady,
		"daily_limit":   rampCompleteLimit,
	}).Error; err != nil {
		return fmt.Errorf("failed to complete warmup ramp: %w", err)
	}
	identity.WarmupStatus = models.WarmupReady
	identity.DailyLimit = rampCompleteLimit
	log.Info("warmup ramp complete, identity ready")
	return nil
}

// sendSyntheticBatch exchanges template traffic with random siblings, pausing
// between sends so the pattern does not look automated.
func (we *WarmupEngine) sendSyntheticBatch(ctx context.Context, identity *models.SendingIdentity,
	siblings []models.SendingIdentity, target int, log *logrus.Entry) (sent, bounced int) {

	transport := utils.NewSMTPTransport(identity)
	for i := 0; i < target; i++ {
		if ctx.Err() != nil {
			return sent, bounced
		}

		recipient := siblings[rand.Intn(len(siblings))]
		subject, body := warmupContent(identity.FromName)

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, _, err := transport.Deliver(sendCtx, utils.OutboundMessage{
			From:     identity.Address,
			FromName: identity.FromName,
			To:       recipient.Address,
			Subject:  subject,
			Text:     body,
		})
		cancel()
		if err != nil {
			log.WithError(err).Warn("synthetic send failed")
			bounced++
		} else {
			sent++
		}

		we.pause(ctx)
	}
	return sent, bounced
}

func (we *WarmupEngine) pause(ctx context.Context) {
	gap := we.MinPause
	if we.MaxPause > we.MinPause {
		gap += time.Duration(rand.Int63n(int64(we.MaxPause - we.MinPause)))
	}
	select {
	case <-time.After(gap):
	case <-ctx.Done():
	}
}

func (we *WarmupEngine) siblingIdentities(identity *models.SendingIdentity) ([]models.SendingIdentity, error) {
	var siblings []models.SendingIdentity
	err := we.DB.Where("user_id = ? AND id <> ?", identity.UserID, identity.ID).
		Find(&siblings).Error
	return siblings, err
}

func (we *WarmupEngine) upsertLog(identityID uint, sent, bounced, health int) error {
	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var entry models.WarmupLog
	err := we.DB.Where("identity_id = ? AND day = ?", identityID, day).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return we.DB.Create(&models.WarmupLog{
			IdentityID:  identityID,
			Day:         day,
			EmailsSent:  sent,
			Bounces:     bounced,
			HealthScore: health,
		}).Error
	}
	if err != nil {
		return err
	}
	return we.DB.Model(&entry).Updates(map[string]interface{}{
		"emails_sent":  gorm.Expr("emails_sent + ?", sent),
		"bounces":      gorm.Expr("bounces + ?", bounced),
		"health_score": health,
	}).Error
}

// dailyTarget picks a send count within the stage's range for the given day.
func (we *WarmupEngine) dailyTarget(day int) int {
	for _, stage := range warmupStages {
		if day <= stage.lastDay {
			return stage.minSend + rand.Intn(stage.maxSend-stage.minSend+1)
		}
	}
	return rampCompleteLimit
}

// DailyLimitForDay is the deterministic cap for a given warmup day: the upper
// bound of the day's stage, or the full limit once the ramp is complete.
func DailyLimitForDay(day int) int {
	if day <= 0 {
		return 0
	}
	for _, stage := range warmupStages {
		if day <= stage.lastDay {
			return stage.maxSend
		}
	}
	return rampCompleteLimit
}

// HealthScore maps a cumulative bounce ratio to 0-100.
func HealthScore(totalSent, totalBounced int) int {
	if totalSent <= 0 {
		return 100
	}
	ratio := float64(totalBounced) / float64(totalSent)
	score := int(math.Round(100 - 1000*ratio))
	if score < 0 {
		return 0
	}
	return score
}

var warmupSubjects = []string{
	"Quick question about your recent post",
	"Following up on our last conversation",
	"Checking in to see how you're doing",
	"Thought you might find this interesting",
	"Let's reconnect soon",
	"An idea I wanted to share with you",
	"Notes from Tuesday's call",
}

var warmupBodies = []string{
	"Hi there,\n\nI wanted to follow up on our previous conversation. Let me know if you have any questions!\n\nBest regards,\n%s",
	"Hello,\n\nI came across this and thought you might find it valuable. What do you think?\n\nRegards,\n%s",
	"Hi,\n\nJust checking in to see if you had any thoughts on this topic?\n\nThanks,\n%s",
	"Greetings,\n\nI wanted to share this with you. Let me know your thoughts when you get a chance.\n\nBest,\n%s",
	"Hello,\n\nHope this message finds you well. I wanted to touch base about next steps.\n\nWarm regards,\n%s",
}

func warmupContent(fromName string) (string, string) {
	subject := warmupSubjects[rand.Intn(len(warmupSubjects))]
	body := fmt.Sprintf(warmupBodies[rand.Intn(len(warmupBodies))], fromName)
	return subject, body
}
