package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"outreachly/models"
	"outreachly/utils"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

// fakeProvider stands in for the mailbox provider. failuresLeft controls how
// many SendMessage calls fail with sendErr before calls start succeeding;
// -1 means every call fails.
type fakeProvider struct {
	failuresLeft int
	sendErr      error

	conversationID string
	messageID      string

	sendCount    int
	refreshCount int

	messages map[string][]utils.ProviderMessage
	busy     []utils.BusyBlock
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		conversationID: "conv-1",
		messageID:      "msg-1",
		messages:       make(map[string][]utils.ProviderMessage),
	}
}

func (p *fakeProvider) SendMessage(ctx context.Context, userID uint, to, subject, html string) (string, string, error) {
	p.sendCount++
	if p.failuresLeft != 0 {
		if p.failuresLeft > 0 {
			p.failuresLeft--
		}
		return "", "", p.sendErr
	}
	return p.conversationID, p.messageID, nil
}

func (p *fakeProvider) ListConversationMessages(ctx context.Context, userID uint, conversationID string) ([]utils.ProviderMessage, error) {
	return p.messages[conversationID], nil
}

func (p *fakeProvider) ListCalendarBusy(ctx context.Context, userID uint, start, end time.Time) ([]utils.BusyBlock, error) {
	return p.busy, nil
}

func (p *fakeProvider) CreateEvent(ctx context.Context, userID uint, event utils.CalendarEvent) (string, error) {
	return "event-1", nil
}

func (p *fakeProvider) RefreshAuth(ctx context.Context, userID uint) error {
	p.refreshCount++
	if p.failuresLeft > 0 {
		p.failuresLeft = 0
	}
	return nil
}

// fakeTextService returns canned drafts and classifications.
type fakeTextService struct {
	sentiment     string
	draftCalls    int
	classifyCalls int
}

func (f *fakeTextService) DraftEmail(ctx context.Context, dc utils.DraftContext) (*utils.Draft, error) {
	f.draftCalls++
	return &utils.Draft{
		Subject:   "Quick question about " + dc.ContactCompany,
		BodyHTML:  "<p>Hi " + dc.ContactName + "</p>",
		BodyPlain: "Hi " + dc.ContactName,
		Tone:      "friendly",
		Score:     0.9,
	}, nil
}

func (f *fakeTextService) ClassifyReply(ctx context.Context, originalBody, replyBody string) (*utils.Classification, error) {
	f.classifyCalls++
	return &utils.Classification{
		Sentiment:      f.sentiment,
		SuggestedReply: "Thanks for getting back to me!",
	}, nil
}

type fixture struct {
	db       *gorm.DB
	queue    *utils.JobQueue
	provider *fakeProvider
	drafter  *fakeTextService
	ss       *SendScheduler

	user     *models.User
	campaign *models.Campaign
	contact  *models.Contact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	provider := newFakeProvider()
	drafter := &fakeTextService{sentiment: utils.SentimentInterested}
	queue := utils.NewJobQueue(db, log.New(os.Stdout, "TEST-QUEUE: ", log.LstdFlags))

	ss := NewSendScheduler(db, queue, utils.NewIdentityRouter(db), provider, drafter, SendPolicy{
		WindowStart:   0,
		WindowEnd:     24,
		FollowUp1Days: 5,
		FollowUp2Days: 14,
		BatchSize:     5,
	})

	user := &models.User{Email: "owner@example.com", Timezone: "UTC", IsActive: true}
	require.NoError(t, db.Create(user).Error)
	campaign := &models.Campaign{UserID: user.ID, Name: "Launch", Description: "Our product launch"}
	require.NoError(t, db.Create(campaign).Error)
	contact := &models.Contact{
		UserID:    user.ID,
		Email:     "prospect@example.com",
		FirstName: "Pat",
		LastName:  "Lee",
		Company:   "Acme",
		Status:    models.ContactNew,
	}
	require.NoError(t, db.Create(contact).Error)

	return &fixture{
		db: db, queue: queue, provider: provider, drafter: drafter, ss: ss,
		user: user, campaign: campaign, contact: contact,
	}
}

// readyIdentity seeds a READY identity without SMTP credentials, so dispatch
// goes through the fake provider.
func (f *fixture) readyIdentity(t *testing.T, limit int) *models.SendingIdentity {
	t.Helper()
	identity := models.SendingIdentity{
		UserID:       f.user.ID,
		Address:      "sender@example.com",
		FromName:     "Sam Sender",
		WarmupStatus: models.WarmupReady,
		DailyLimit:   limit,
		HealthScore:  100,
	}
	require.NoError(t, f.db.Create(&identity).Error)
	return &identity
}

// approvedOutreach seeds an approved outreach with content plus its send job.
func (f *fixture) approvedOutreach(t *testing.T, typ string, parentID *uint) (*models.Outreach, *models.Job) {
	t.Helper()
	outreach := models.Outreach{
		ContactID:  f.contact.ID,
		CampaignID: f.campaign.ID,
		ParentID:   parentID,
		Type:       typ,
		Status:     models.OutreachApproved,
		Subject:    "Hello from Acme",
		BodyHTML:   "<p>Hello</p>",
		BodyText:   "Hello",
	}
	require.NoError(t, f.db.Create(&outreach).Error)
	job, err := f.queue.Enqueue(models.JobKindSendMessage, fmt.Sprint(outreach.ID), 0)
	require.NoError(t, err)
	return &outreach, job
}

func (f *fixture) reloadJob(t *testing.T, id uint) *models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, f.db.First(&job, id).Error)
	return &job
}

func (f *fixture) reloadOutreach(t *testing.T, id uint) *models.Outreach {
	t.Helper()
	var outreach models.Outreach
	require.NoError(t, f.db.First(&outreach, id).Error)
	return &outreach
}
