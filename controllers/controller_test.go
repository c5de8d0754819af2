package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
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

type stubTextService struct{}

func (stubTextService) DraftEmail(ctx context.Context, dc utils.DraftContext) (*utils.Draft, error) {
	return &utils.Draft{
		Subject:         "Quick question about " + dc.ContactCompany,
		SubjectVariants: []string{"Another angle"},
		BodyHTML:        "<p>Hi " + dc.ContactName + "</p>",
		BodyPlain:       "Hi " + dc.ContactName,
		Hook:            "shared industry",
		Tone:            "friendly",
		Score:           0.85,
	}, nil
}

func (stubTextService) ClassifyReply(ctx context.Context, originalBody, replyBody string) (*utils.Classification, error) {
	return &utils.Classification{Sentiment: utils.SentimentInterested}, nil
}

type stubProvider struct{}

func (stubProvider) SendMessage(ctx context.Context, userID uint, to, subject, html string) (string, string, error) {
	return "conv-1", "msg-1", nil
}

func (stubProvider) ListConversationMessages(ctx context.Context, userID uint, conversationID string) ([]utils.ProviderMessage, error) {
	return nil, nil
}

func (stubProvider) ListCalendarBusy(ctx context.Context, userID uint, start, end time.Time) ([]utils.BusyBlock, error) {
	return nil, nil
}

func (stubProvider) CreateEvent(ctx context.Context, userID uint, event utils.CalendarEvent) (string, error) {
	return "event-1", nil
}

func (stubProvider) RefreshAuth(ctx context.Context, userID uint) error {
	return nil
}

type controllerFixture struct {
	db    *gorm.DB
	app   *fiber.App
	queue *utils.JobQueue

	contact  *models.Contact
	campaign *models.Campaign
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	db := testDB(t)
	opsLogger := log.New(os.Stdout, "TEST-OPS: ", log.LstdFlags)
	queue := utils.NewJobQueue(db, opsLogger)

	app := fiber.New()
	oc := NewOutreachController(db, queue, stubTextService{}, opsLogger)
	cc := NewContactController(db, stubProvider{}, opsLogger)
	app.Post("/outreach/:id/draft", oc.DraftOutreach)
	app.Post("/outreach/:id/approve", oc.ApproveOutreach)
	app.Post("/contacts/:id/meeting", cc.ScheduleMeeting)

	user := models.User{Email: "owner@example.com", Timezone: "UTC", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	campaign := models.Campaign{UserID: user.ID, Name: "Launch", Description: "Our launch"}
	require.NoError(t, db.Create(&campaign).Error)
	contact := models.Contact{
		UserID: user.ID, Email: "prospect@example.com",
		FirstName: "Pat", LastName: "Lee", Company: "Acme",
		Status: models.ContactReplied,
	}
	require.NoError(t, db.Create(&contact).Error)

	return &controllerFixture{db: db, app: app, queue: queue, contact: &contact, campaign: &campaign}
}

func TestDraftOutreach(t *testing.T) {
	f := newControllerFixture(t)
	outreach := models.Outreach{
		ContactID: f.contact.ID, CampaignID: f.campaign.ID,
		Type: models.OutreachInitial, Status: models.OutreachScheduled,
	}
	require.NoError(t, f.db.Create(&outreach).Error)

	req := httptest.NewRequest("POST", fmt.Sprintf("/outreach/%d/draft", outreach.ID), nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var after models.Outreach
	require.NoError(t, f.db.First(&after, outreach.ID).Error)
	assert.Equal(t, models.OutreachDraftCreated, after.Status)
	assert.NotEmpty(t, after.Subject)
	assert.NotEmpty(t, after.BodyHTML)
}

func TestDraftOutreachNotFound(t *testing.T) {
	f := newControllerFixture(t)

	req := httptest.NewRequest("POST", "/outreach/9999/draft", nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestApproveOutreachEnqueuesJob(t *testing.T) {
	f := newControllerFixture(t)
	outreach := models.Outreach{
		ContactID: f.contact.ID, CampaignID: f.campaign.ID,
		Type: models.OutreachInitial, Status: models.OutreachDraftCreated,
		Subject: "Hello", BodyHTML: "<p>Hello</p>",
	}
	require.NoError(t, f.db.Create(&outreach).Error)

	req := httptest.NewRequest("POST", fmt.Sprintf("/outreach/%d/approve", outreach.ID), nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["job_id"])

	var after models.Outreach
	require.NoError(t, f.db.First(&after, outreach.ID).Error)
	assert.Equal(t, models.OutreachApproved, after.Status)

	var jobs []models.Job
	require.NoError(t, f.db.Where("payload = ?", fmt.Sprint(outreach.ID)).Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobKindSendMessage, jobs[0].Kind)
}

func TestApproveOutreachRejectsEmptyContent(t *testing.T) {
	f := newControllerFixture(t)
	outreach := models.Outreach{
		ContactID: f.contact.ID, CampaignID: f.campaign.ID,
		Type: models.OutreachInitial, Status: models.OutreachDraftCreated,
	}
	require.NoError(t, f.db.Create(&outreach).Error)

	req := httptest.NewRequest("POST", fmt.Sprintf("/outreach/%d/approve", outreach.ID), nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestApproveOutreachRejectsSent(t *testing.T) {
	f := newControllerFixture(t)
	outreach := models.Outreach{
		ContactID: f.contact.ID, CampaignID: f.campaign.ID,
		Type: models.OutreachInitial, Status: models.OutreachSent,
		Subject: "Hello", BodyHTML: "<p>Hello</p>",
	}
	require.NoError(t, f.db.Create(&outreach).Error)

	req := httptest.NewRequest("POST", fmt.Sprintf("/outreach/%d/approve", outreach.ID), nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestScheduleMeeting(t *testing.T) {
	f := newControllerFixture(t)

	req := httptest.NewRequest("POST", fmt.Sprintf("/contacts/%d/meeting", f.contact.ID),
		strings.NewReader(`{"subject":"Intro call"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "event-1", body["event_id"])

	var after models.Contact
	require.NoError(t, f.db.First(&after, f.contact.ID).Error)
	assert.Equal(t, models.ContactMeetingScheduled, after.Status)
}

func TestScheduleMeetingWithoutProvider(t *testing.T) {
	f := newControllerFixture(t)

	app := fiber.New()
	cc := NewContactController(f.db, utils.UnconfiguredProvider{}, log.New(os.Stdout, "TEST-OPS: ", log.LstdFlags))
	app.Post("/contacts/:id/meeting", cc.ScheduleMeeting)

	req := httptest.NewRequest("POST", fmt.Sprintf("/contacts/%d/meeting", f.contact.ID),
		strings.NewReader(`{"subject":"Intro call"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	var after models.Contact
	require.NoError(t, f.db.First(&after, f.contact.ID).Error)
	assert.Equal(t, models.ContactReplied, after.Status, "the contact does not advance on a failed booking")
}

func TestScheduleMeetingRejectsShortSubject(t *testing.T) {
	f := newControllerFixture(t)

	req := httptest.NewRequest("POST", fmt.Sprintf("/contacts/%d/meeting", f.contact.ID),
		strings.NewReader(`{"subject":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestScheduleMeetingRejectsBouncedContact(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.db.Model(f.contact).Update("status", models.ContactBounced).Error)

	req := httptest.NewRequest("POST", fmt.Sprintf("/contacts/%d/meeting", f.contact.ID),
		strings.NewReader(`{"subject":"Intro call"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
