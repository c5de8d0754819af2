package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// Sender address fragments that mark automated delivery-status mail.
var systemSenderPatterns = []string{
	"mailer-daemon",
	"postmaster",
	"mail delivery subsystem",
	"microsoftexchange",
	"no-reply",
	"noreply",
}

// Body fragments that mark a bounce notification.
var bounceKeywords = []string{
	"delivery has failed",
	"undeliverable",
	"could not be delivered",
	"address not found",
	"mailbox unavailable",
	"user unknown",
	"recipient rejected",
	"550",
}

// NDR subject lines for the inbox-wide sweep.
var bounceSubjects = []string{
	"undeliverable",
	"delivery status notification",
	"mail delivery failed",
	"returned mail",
	"failure notice",
	"delivery has failed",
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// Decrypter decrypts stored IMAP credentials. Wired to utils.Decrypt in
// production; tests substitute their own.
type Decrypter func(string) (string, error)

// SignalWatcher reacts to the asynchronous world: replies and bounces. It is
// the sole writer of reply-driven contact transitions and of reply sentiment.
type SignalWatcher struct {
	DB         *gorm.DB
	Provider   utils.MailboxProvider
	Classifier utils.TextService
	Decrypt    Decrypter
	Logger     *logrus.Entry
}

func NewSignalWatcher(db *gorm.DB, provider utils.MailboxProvider, classifier utils.TextService, decrypt Decrypter) *SignalWatcher {
	return &SignalWatcher{
		DB:         db,
		Provider:   provider,
		Classifier: classifier,
		Decrypt:    decrypt,
		Logger:     logrus.WithField("component", "signal_watcher"),
	}
}

// Run executes both passes. Each is independently idempotent and safe to
// re-run; a pass failing wholesale does not stop the other.
func (sw *SignalWatcher) Run(ctx context.Context) error {
	if err := sw.RunReplyPass(ctx); err != nil {
		sw.Logger.WithError(err).Error("reply pass failed")
	}
	if err := sw.RunBounceSweep(ctx); err != nil {
		sw.Logger.WithError(err).Error("bounce sweep failed")
	}
	return nil
}

// RunReplyPass checks tracked conversations of contacted contacts for new
// inbound messages, classifies them, and advances contact state. A single
// contact's failure is logged and the loop continues.
func (sw *SignalWatcher) RunReplyPass(ctx context.Context) error {
	var contacts []models.Contact
	err := sw.DB.Where("status = ? AND conversation_id <> ''", models.ContactOutreachStarted).
		Find(&contacts).Error
	if err != nil {
		return fmt.Errorf("failed to fetch contacts for reply pass: %w", err)
	}

	for i := range contacts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sw.processContactReplies(ctx, &contacts[i]); err != nil {
			sw.Logger.WithError(err).WithField("contact", contacts[i].Email).
				Warn("reply pass failed for contact")
		}
	}
	return nil
}

func (sw *SignalWatcher) processContactReplies(ctx context.Context, contact *models.Contact) error {
	messages, err := sw.Provider.ListConversationMessages(ctx, contact.UserID, contact.ConversationID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	latest := messages[0]
	for _, m := range messages[1:] {
		if m.ReceivedAt.After(latest.ReceivedAt) {
			latest = m
		}
	}

	if looksLikeBounce(latest.From, latest.Body) {
		return sw.CascadeBounce(contact)
	}

	// A reply already handled for this contact stays handled.
	if contact.RepliedAt != nil {
		return nil
	}
	return sw.processReply(ctx, contact, latest)
}

func (sw *SignalWatcher) processReply(ctx context.Context, contact *models.Contact, reply utils.ProviderMessage) error {
	var lastSent models.Outreach
	err := sw.DB.Where("contact_id = ? AND status = ?", contact.ID, models.OutreachSent).
		Order("sent_at DESC").
		First(&lastSent).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	cls, err := sw.Classifier.ClassifyReply(ctx, lastSent.BodyText, reply.Body)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	if err := sw.DB.Model(&lastSent).Updates(map[string]interface{}{
		"reply_body":      reply.Body,
		"reply_sentiment": cls.Sentiment,
		"suggested_reply": cls.SuggestedReply,
	}).Error; err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{"replied_at": now}
	switch cls.Sentiment {
	case utils.SentimentInterested, utils.SentimentMaybeLater:
		if err := models.CheckContactTransition(contact.Status, models.ContactReplied); err != nil {
			return err
		}
		updates["status"] = models.ContactReplied
	case utils.SentimentNotInterested, utils.SentimentWrongPerson:
		if err := models.CheckContactTransition(contact.Status, models.ContactNotInterested); err != nil {
			return err
		}
		updates["status"] = models.ContactNotInterested
	case utils.SentimentOutOfOffice:
		// Status unchanged; automated follow-ups keep running.
	}
	if err := sw.DB.Model(contact).Updates(updates).Error; err != nil {
		return err
	}
	contact.RepliedAt = &now

	// A human engaged; stop pending automation unless they are just away.
	if cls.Sentiment != utils.SentimentOutOfOffice {
		if err := sw.cancelOutreach(contact.ID, []string{models.OutreachScheduled}); err != nil {
			return err
		}
	}

	sw.Logger.WithFields(logrus.Fields{"contact": contact.Email, "sentiment": cls.Sentiment}).
		Info("reply classified")
	return nil
}

// CascadeBounce marks the contact bounced and cancels every outreach of the
// contact that has not yet gone out. Idempotent: a contact already bounced
// only re-runs the cancellation, which finds nothing.
func (sw *SignalWatcher) CascadeBounce(contact *models.Contact) error {
	if contact.Status != models.ContactBounced {
		if err := models.CheckContactTransition(contact.Status, models.ContactBounced); err != nil {
			return err
		}
		if err := sw.DB.Model(contact).Update("status", models.ContactBounced).Error; err != nil {
			return err
		}
		contact.Status = models.ContactBounced
	}

	if err := sw.cancelOutreach(contact.ID, []string{
		models.OutreachScheduled,
		models.OutreachDraftCreated,
		models.OutreachApproved,
	}); err != nil {
		return err
	}

	// Count the bounce against the assigned identity's record.
	var lastSent models.Outreach
	err := sw.DB.Where("contact_id = ? AND status = ? AND identity_id IS NOT NULL",
		contact.ID, models.OutreachSent).
		Order("sent_at DESC").
		First(&lastSent).Error
	if err == nil && lastSent.IdentityID != nil {
		sw.DB.Model(&models.SendingIdentity{}).
			Where("id = ?", *lastSent.IdentityID).
			Update("total_bounced", gorm.Expr("total_bounced + ?", 1))
	}

	sw.Logger.WithField("contact", contact.Email).Info("contact bounced, outreach cancelled")
	return nil
}

func (sw *SignalWatcher) cancelOutreach(contactID uint, fromStatuses []string) error {
	return sw.DB.Model(&models.Outreach{}).
		Where("contact_id = ? AND status IN ?", contactID, fromStatuses).
		Update("status", models.OutreachCancelled).Error
}

// RunBounceSweep scans each active user's inbox over IMAP for NDR messages of
// the trailing 24 hours and cascades any bounced addresses it can attribute to
// non-bounced contacts. This catches bounces that never joined a tracked
// conversation thread.
func (sw *SignalWatcher) RunBounceSweep(ctx context.Context) error {
	var users []models.User
	if err := sw.DB.Where("is_active = ? AND imap_host <> ''", true).Find(&users).Error; err != nil {
		return fmt.Errorf("failed to fetch users for bounce sweep: %w", err)
	}

	for i := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		addresses, err := sw.collectBouncedAddresses(&users[i])
		if err != nil {
			sw.Logger.WithError(err).WithField("user", users[i].Email).
				Warn("bounce sweep failed for user")
			continue
		}
		sw.cascadeAddresses(&users[i], addresses)
	}
	return nil
}

// collectBouncedAddresses connects to the user's inbox and extracts candidate
// bounced recipient addresses from recent NDR messages.
func (sw *SignalWatcher) collectBouncedAddresses(user *models.User) ([]string, error) {
	password, err := sw.Decrypt(user.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", user.IMAPHost, user.IMAPPort)
	imapClient, err := client.DialTLS(addr, &tls.Config{ServerName: user.IMAPHost})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(user.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := user.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-24 * time.Hour)
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var addresses []string
	for msg := range messages {
		if msg.Envelope == nil || !isBounceSubject(msg.Envelope.Subject) {
			continue
		}
		body := extractTextBody(msg)
		for _, candidate := range emailPattern.FindAllString(body, -1) {
			candidate = strings.ToLower(candidate)
			if candidate == strings.ToLower(user.Email) || isSystemSender(candidate) {
				continue
			}
			if checkmail.ValidateFormat(candidate) != nil {
				continue
			}
			addresses = append(addresses, candidate)
		}
	}

	if err := <-done; err != nil {
		return addresses, fmt.Errorf("error during fetch: %w", err)
	}
	return addresses, nil
}

func (sw *SignalWatcher) cascadeAddresses(user *models.User, addresses []string) {
	seen := make(map[string]struct{})
	for _, address := range addresses {
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}

		var contact models.Contact
		err := sw.DB.Where("user_id = ? AND LOWER(email) = ? AND status <> ?",
			user.ID, address, models.ContactBounced).
			First(&contact).Error
		if err != nil {
			continue
		}
		if err := sw.CascadeBounce(&contact); err != nil {
			sw.Logger.WithError(err).WithField("contact", contact.Email).
				Warn("failed to cascade bounce")
		}
	}
}

func extractTextBody(msg *imap.Message) string {
	section := imap.BodySectionName{Peek: true}
	literal := msg.GetBody(&section)
	if literal == nil {
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	var text strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		if _, ok := p.Header.(*mail.InlineHeader); ok {
			b, err := io.ReadAll(p.Body)
			if err == nil {
				text.Write(b)
			}
		}
	}
	return text.String()
}

func looksLikeBounce(from, body string) bool {
	if !isSystemSender(from) {
		return false
	}
	lowered := strings.ToLower(body)
	for _, keyword := range bounceKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func isSystemSender(address string) bool {
	lowered := strings.ToLower(address)
	for _, pattern := range systemSenderPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

func isBounceSubject(subject string) bool {
	lowered := strings.ToLower(subject)
	for _, marker := range bounceSubjects {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
