package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// SendPolicy carries the scheduler-wide sending defaults. Campaigns may
// override the window; the cadence defaults apply when a campaign leaves its
// own at zero.
type SendPolicy struct {
	WindowStart   int
	WindowEnd     int
	FollowUp1Days int
	FollowUp2Days int
	BatchSize     int
}

// SendScheduler drains send jobs from the queue, applies routing, capacity and
// window policy, dispatches, and fans out follow-ups. It is the sole writer of
// Job and of Outreach.Status during dispatch.
type SendScheduler struct {
	DB       *gorm.DB
	Queue    *utils.JobQueue
	Router   *utils.IdentityRouter
	Provider utils.MailboxProvider
	Drafter  utils.TextService
	Policy   SendPolicy
	Logger   *logrus.Entry
}

func NewSendScheduler(db *gorm.DB, queue *utils.JobQueue, router *utils.IdentityRouter,
	provider utils.MailboxProvider, drafter utils.TextService, policy SendPolicy) *SendScheduler {
	return &SendScheduler{
		DB:       db,
		Queue:    queue,
		Router:   router,
		Provider: provider,
		Drafter:  drafter,
		Policy:   policy,
		Logger:   logrus.WithField("component", "send_scheduler"),
	}
}

// RunBatch processes up to Policy.BatchSize cycles to bound the wall-clock
// time of one trigger firing. Individual cycle errors are logged, not
// propagated; an empty queue stops the batch early.
func (ss *SendScheduler) RunBatch(ctx context.Context) error {
	n := ss.Policy.BatchSize
	if n <= 0 {
		n = 5
	}
	for i := 0; i < n; i++ {
		worked, err := ss.RunCycle(ctx)
		if err != nil {
			ss.Logger.WithError(err).Warn("send cycle failed")
			continue
		}
		if !worked {
			return nil
		}
	}
	return nil
}

// RunCycle claims and processes one send job. It returns false when no job was
// available, which is not an error.
func (ss *SendScheduler) RunCycle(ctx context.Context) (bool, error) {
	job, err := ss.Queue.ClaimNext()
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := ss.Logger.WithFields(logrus.Fields{"job_id": job.JobID, "outreach_id": job.Payload})

	// A payload that cannot resolve will never succeed; kill instead of retry.
	var outreach models.Outreach
	if err := ss.DB.First(&outreach, utils.ParseUint(job.Payload)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			log.Error("outreach reference cannot resolve, dead-lettering job")
			return true, ss.Queue.Kill(job, fmt.Errorf("outreach %s not found", job.Payload))
		}
		return true, ss.requeue(job, err)
	}

	// Cancelled or already-terminal outreach has nothing left to do.
	if outreach.IsTerminal() {
		log.WithField("status", outreach.Status).Info("outreach already terminal, completing job")
		return true, ss.Queue.Complete(job)
	}

	var contact models.Contact
	var campaign models.Campaign
	if err := ss.DB.First(&contact, outreach.ContactID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return true, ss.Queue.Kill(job, fmt.Errorf("contact %d not found", outreach.ContactID))
		}
		return true, ss.requeue(job, err)
	}
	if err := ss.DB.First(&campaign, outreach.CampaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return true, ss.Queue.Kill(job, fmt.Errorf("campaign %d not found", outreach.CampaignID))
		}
		return true, ss.requeue(job, err)
	}

	// Follow-ups may only send after their parent did.
	if outreach.ParentID != nil {
		var parent models.Outreach
		if err := ss.DB.First(&parent, *outreach.ParentID).Error; err != nil {
			return true, ss.Queue.Kill(job, fmt.Errorf("parent outreach %d not found", *outreach.ParentID))
		}
		switch parent.Status {
		case models.OutreachSent:
		case models.OutreachFailed, models.OutreachCancelled:
			log.WithField("parent_status", parent.Status).Info("parent terminal, cancelling follow-up")
			if err := ss.setOutreachStatus(&outreach, models.OutreachCancelled); err != nil {
				return true, err
			}
			return true, ss.Queue.Complete(job)
		default:
			return true, ss.Queue.Reschedule(job, time.Now().Add(time.Hour))
		}
	}

	windowStart, windowEnd := campaign.Window(ss.Policy.WindowStart, ss.Policy.WindowEnd)
	now := ss.localNow(campaign.UserID)

	// Resolve the sending identity, keeping any previously persisted choice so
	// retries do not re-roll routing.
	identity, err := ss.resolveIdentity(&outreach, campaign.UserID)
	if err == utils.ErrNoIdentityAvailable {
		next := nextWindowOpen(now, windowStart, windowEnd)
		log.WithField("not_before", next).Info("no identity available, deferring")
		return true, ss.Queue.Reschedule(job, next)
	}
	if err != nil {
		return true, ss.requeue(job, err)
	}

	// Capacity: recomputed aggregate, not a cached counter.
	sentToday, err := ss.Router.SentToday(identity.ID, now)
	if err != nil {
		return true, ss.requeue(job, err)
	}
	if sentToday >= int64(identity.DailyLimit) {
		next := tomorrowAt(now, windowStart)
		log.WithFields(logrus.Fields{"identity": identity.Address, "sent_today": sentToday}).
			Info("identity at daily cap, deferring to tomorrow")
		return true, ss.Queue.Reschedule(job, next)
	}

	// Sending window.
	if now.Hour() < windowStart || now.Hour() >= windowEnd {
		next := nextWindowOpen(now, windowStart, windowEnd)
		log.WithField("not_before", next).Info("outside sending window, deferring")
		return true, ss.Queue.Reschedule(job, next)
	}

	return true, ss.dispatch(ctx, job, &outreach, &contact, &campaign, identity, log)
}

func (ss *SendScheduler) dispatch(ctx context.Context, job *models.Job, outreach *models.Outreach,
	contact *models.Contact, campaign *models.Campaign, identity *models.SendingIdentity, log *logrus.Entry) error {

	if outreach.Status != models.OutreachSending {
		if err := ss.setOutreachStatus(outreach, models.OutreachSending); err != nil {
			return err
		}
	}

	var deliverer utils.Deliverer
	if identity.HasSMTPCredentials() {
		deliverer = utils.NewSMTPTransport(identity)
	} else {
		deliverer = utils.NewMailboxTransport(ss.Provider, campaign.UserID)
	}

	msg := utils.OutboundMessage{
		From:     identity.Address,
		FromName: identity.FromName,
		To:       contact.Email,
		Subject:  outreach.Subject,
		HTML:     outreach.BodyHTML,
		Text:     outreach.BodyText,
	}
	if outreach.ParentID != nil {
		var parent models.Outreach
		if err := ss.DB.First(&parent, *outreach.ParentID).Error; err == nil {
			msg.InReplyTo = parent.MessageID
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	conversationID, messageID, err := deliverer.Deliver(sendCtx, msg)
	if err != nil && utils.IsAuthExpired(err) {
		// One forced refresh-and-retry, not counted against the backoff budget.
		log.Warn("provider auth expired, refreshing and retrying once")
		if refreshErr := ss.Provider.RefreshAuth(sendCtx, campaign.UserID); refreshErr == nil {
			conversationID, messageID, err = deliverer.Deliver(sendCtx, msg)
		}
	}
	if err != nil {
		return ss.handleDispatchFailure(job, outreach, err, log)
	}

	return ss.handleDispatchSuccess(job, outreach, contact, campaign, identity, conversationID, messageID, log)
}

func (ss *SendScheduler) handleDispatchFailure(job *models.Job, outreach *models.Outreach, cause error, log *logrus.Entry) error {
	log.WithError(cause).Warn("dispatch failed")

	failErr := ss.Queue.Fail(job, cause)
	if failErr == utils.ErrAttemptsExhausted {
		// The outreach is still sending here, so it can fail directly.
		if err := ss.setOutreachStatus(outreach, models.OutreachFailed); err != nil {
			return err
		}
		return ss.DB.Model(outreach).Update("last_error", cause.Error()).Error
	}
	if failErr != nil {
		return failErr
	}

	// A retry remains; put the outreach back so the next attempt picks it up.
	if err := ss.setOutreachStatus(outreach, models.OutreachApproved); err != nil {
		return err
	}

	if rle, ok := utils.IsRateLimited(cause); ok && rle.RetryAfter > 0 {
		hinted := time.Now().Add(rle.RetryAfter)
		if hinted.After(job.NotBefore) {
			return ss.Queue.Delay(job, hinted)
		}
	}
	return nil
}

func (ss *SendScheduler) handleDispatchSuccess(job *models.Job, outreach *models.Outreach,
	contact *models.Contact, campaign *models.Campaign, identity *models.SendingIdentity,
	conversationID, messageID string, log *logrus.Entry) error {

	now := time.Now()
	if err := models.CheckOutreachTransition(outreach.Status, models.OutreachSent); err != nil {
		return err
	}
	if err := ss.DB.Model(outreach).Updates(map[string]interface{}{
		"status":          models.OutreachSent,
		"sent_at":         now,
		"message_id":      messageID,
		"conversation_id": conversationID,
	}).Error; err != nil {
		return err
	}
	outreach.Status = models.OutreachSent
	outreach.SentAt = &now

	contactUpdates := map[string]interface{}{"last_contacted_at": now}
	if conversationID != "" {
		contactUpdates["conversation_id"] = conversationID
	}
	if contact.Status == models.ContactNew || contact.Status == models.ContactResearched {
		if err := models.CheckContactTransition(contact.Status, models.ContactOutreachStarted); err != nil {
			return err
		}
		contactUpdates["status"] = models.ContactOutreachStarted
	}
	if err := ss.DB.Model(contact).Updates(contactUpdates).Error; err != nil {
		return err
	}

	if err := ss.DB.Model(campaign).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error; err != nil {
		log.WithError(err).Warn("failed to bump campaign sent count")
	}

	if outreach.Type == models.OutreachInitial {
		if err := ss.createFollowUps(outreach, campaign, now); err != nil {
			log.WithError(err).Error("failed to schedule follow-ups")
		}
	}

	log.WithFields(logrus.Fields{"identity": identity.Address, "message_id": messageID}).
		Info("outreach sent")
	return ss.Queue.Complete(job)
}

// createFollowUps fans out the campaign's follow-up cadence after an initial
// send. Each follow-up lands at a randomized minute within the first two hours
// of the sending window so sibling sends do not share a timestamp.
func (ss *SendScheduler) createFollowUps(parent *models.Outreach, campaign *models.Campaign, sentAt time.Time) error {
	windowStart, _ := campaign.Window(ss.Policy.WindowStart, ss.Policy.WindowEnd)

	cadence := []struct {
		typ  string
		days int
	}{
		{models.OutreachFollowUp1, ss.followUpDays(campaign.FollowUp1Days, ss.Policy.FollowUp1Days)},
		{models.OutreachFollowUp2, ss.followUpDays(campaign.FollowUp2Days, ss.Policy.FollowUp2Days)},
	}

	for _, step := range cadence {
		if step.days <= 0 {
			continue
		}

		// At most one non-cancelled outreach per (contact, type) slot.
		var existing int64
		if err := ss.DB.Model(&models.Outreach{}).
			Where("contact_id = ? AND type = ? AND status <> ?",
				parent.ContactID, step.typ, models.OutreachCancelled).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			continue
		}

		day := sentAt.AddDate(0, 0, step.days)
		scheduledAt := time.Date(day.Year(), day.Month(), day.Day(), windowStart, 0, 0, 0, day.Location()).
			Add(time.Duration(rand.Intn(120)) * time.Minute)

		followUp := models.Outreach{
			ContactID:   parent.ContactID,
			CampaignID:  parent.CampaignID,
			ParentID:    &parent.ID,
			Type:        step.typ,
			Status:      models.OutreachScheduled,
			ScheduledAt: &scheduledAt,
		}
		if err := ss.DB.Create(&followUp).Error; err != nil {
			return err
		}
	}
	return nil
}

// EnqueueDueFollowUps is the hourly due-check: scheduled outreach whose time
// has come and whose parent is sent gets drafted (when empty) and queued.
// A single item's failure is logged and skipped.
func (ss *SendScheduler) EnqueueDueFollowUps(ctx context.Context) error {
	var due []models.Outreach
	err := ss.DB.
		Joins("JOIN outreaches parents ON parents.id = outreaches.parent_id").
		Where("outreaches.status = ? AND outreaches.scheduled_at <= ? AND parents.status = ?",
			models.OutreachScheduled, time.Now(), models.OutreachSent).
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("failed to query due follow-ups: %w", err)
	}

	for i := range due {
		if err := ss.enqueueFollowUp(ctx, &due[i]); err != nil {
			ss.Logger.WithError(err).WithField("outreach_id", due[i].ID).
				Warn("failed to enqueue due follow-up")
		}
	}
	return nil
}

func (ss *SendScheduler) enqueueFollowUp(ctx context.Context, outreach *models.Outreach) error {
	if outreach.BodyHTML == "" && ss.Drafter != nil {
		if err := ss.draftFollowUp(ctx, outreach); err != nil {
			return err
		}
	}

	if err := ss.setOutreachStatus(outreach, models.OutreachApproved); err != nil {
		return err
	}
	_, err := ss.Queue.Enqueue(models.JobKindSendMessage, fmt.Sprint(outreach.ID), 0)
	return err
}

func (ss *SendScheduler) draftFollowUp(ctx context.Context, outreach *models.Outreach) error {
	var contact models.Contact
	var campaign models.Campaign
	var parent models.Outreach
	if err := ss.DB.First(&contact, outreach.ContactID).Error; err != nil {
		return err
	}
	if err := ss.DB.First(&campaign, outreach.CampaignID).Error; err != nil {
		return err
	}
	if outreach.ParentID != nil {
		if err := ss.DB.First(&parent, *outreach.ParentID).Error; err != nil {
			return err
		}
	}

	draft, err := ss.Drafter.DraftEmail(ctx, utils.DraftContext{
		ContactName:    contact.FirstName + " " + contact.LastName,
		ContactCompany: contact.Company,
		ContactRole:    contact.Position,
		CampaignName:   campaign.Name,
		CampaignPitch:  campaign.Description,
		OutreachType:   outreach.Type,
		ParentBody:     parent.BodyText,
	})
	if err != nil {
		return err
	}

	if err := ss.DB.Model(outreach).Updates(map[string]interface{}{
		"subject":   draft.Subject,
		"body_html": draft.BodyHTML,
		"body_text": draft.BodyPlain,
	}).Error; err != nil {
		return err
	}
	outreach.Subject = draft.Subject
	outreach.BodyHTML = draft.BodyHTML
	outreach.BodyText = draft.BodyPlain
	return nil
}

func (ss *SendScheduler) resolveIdentity(outreach *models.Outreach, userID uint) (*models.SendingIdentity, error) {
	if outreach.IdentityID != nil {
		var identity models.SendingIdentity
		if err := ss.DB.First(&identity, *outreach.IdentityID).Error; err != nil {
			return nil, err
		}
		return &identity, nil
	}

	identity, err := ss.Router.SelectIdentity(userID)
	if err != nil {
		return nil, err
	}
	// Persist before dispatching so retries reuse this choice.
	if err := ss.DB.Model(outreach).Update("identity_id", identity.ID).Error; err != nil {
		return nil, err
	}
	outreach.IdentityID = &identity.ID
	return identity, nil
}

func (ss *SendScheduler) setOutreachStatus(outreach *models.Outreach, to string) error {
	if err := models.CheckOutreachTransition(outreach.Status, to); err != nil {
		return err
	}
	if err := ss.DB.Model(outreach).Update("status", to).Error; err != nil {
		return err
	}
	outreach.Status = to
	return nil
}

// requeue sends a transient infrastructure failure through the normal retry
// path.
func (ss *SendScheduler) requeue(job *models.Job, cause error) error {
	if err := ss.Queue.Fail(job, cause); err != nil && err != utils.ErrAttemptsExhausted {
		return err
	}
	return nil
}

// localNow returns the current time in the workspace owner's timezone, falling
// back to server time when the zone cannot load.
func (ss *SendScheduler) localNow(userID uint) time.Time {
	var user models.User
	if err := ss.DB.First(&user, userID).Error; err != nil {
		return time.Now()
	}
	loc, err := time.LoadLocation(user.Location())
	if err != nil {
		return time.Now()
	}
	return time.Now().In(loc)
}

// nextWindowOpen returns today's window start if it is still ahead, otherwise
// tomorrow's.
func nextWindowOpen(now time.Time, windowStart, windowEnd int) time.Time {
	if now.Hour() < windowStart {
		return time.Date(now.Year(), now.Month(), now.Day(), windowStart, 0, 0, 0, now.Location())
	}
	return tomorrowAt(now, windowStart)
}

func tomorrowAt(now time.Time, hour int) time.Time {
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, 0, 0, 0, now.Location())
}

func (ss *SendScheduler) followUpDays(campaignValue, defaultValue int) int {
	if campaignValue > 0 {
		return campaignValue
	}
	return defaultValue
}
