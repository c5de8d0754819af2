package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"outreachly/models"
)

func warmingIdentity(t *testing.T, db *gorm.DB, userID uint, address string, day int) *models.SendingIdentity {
	t.Helper()
	identity := models.SendingIdentity{
		UserID:       userID,
		Address:      address,
		FromName:     "Warm Sender",
		WarmupStatus: models.WarmupWarming,
		WarmupDay:    day,
		DailyLimit:   DailyLimitForDay(day),
		HealthScore:  100,
		// unroutable SMTP endpoint; synthetic sends fail fast
		SMTPHost:     "127.0.0.1",
		SMTPPort:     1,
		SMTPUsername: "warm",
	}
	require.NoError(t, db.Create(&identity).Error)
	return &identity
}

func testWarmupEngine(db *gorm.DB) *WarmupEngine {
	we := NewWarmupEngine(db)
	we.MinPause = 0
	we.MaxPause = 0
	return we
}

func TestDailyLimitForDayRampsMonotonically(t *testing.T) {
	assert.Equal(t, 0, DailyLimitForDay(0))
	assert.Equal(t, 3, DailyLimitForDay(1))
	assert.Equal(t, 3, DailyLimitForDay(7))
	assert.Equal(t, 8, DailyLimitForDay(8))
	assert.Equal(t, 15, DailyLimitForDay(21))
	assert.Equal(t, 20, DailyLimitForDay(28))
	assert.Equal(t, 20, DailyLimitForDay(90))

	for day := 2; day <= 60; day++ {
		assert.GreaterOrEqual(t, DailyLimitForDay(day), DailyLimitForDay(day-1),
			"limit must never shrink as the ramp advances, day %d", day)
	}
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 100, HealthScore(0, 0))
	assert.Equal(t, 100, HealthScore(500, 0))
	assert.Equal(t, 90, HealthScore(100, 1))
	assert.Equal(t, 50, HealthScore(100, 5))
	assert.Equal(t, 0, HealthScore(100, 10))
	assert.Equal(t, 0, HealthScore(10, 5))
}

func TestWarmupSkipsIdentityWithoutSiblings(t *testing.T) {
	db := testDB(t)
	we := testWarmupEngine(db)

	lonely := warmingIdentity(t, db, 1, "lonely@example.com", 5)

	require.NoError(t, we.RunDailyCycle(context.Background()))

	var after models.SendingIdentity
	require.NoError(t, db.First(&after, lonely.ID).Error)
	assert.Equal(t, 5, after.WarmupDay, "an idle day builds no reputation")
	assert.Equal(t, models.WarmupWarming, after.WarmupStatus)

	var logs int64
	require.NoError(t, db.Model(&models.WarmupLog{}).Count(&logs).Error)
	assert.Zero(t, logs)
}

func TestWarmupAdvancesDayAndLogs(t *testing.T) {
	db := testDB(t)
	we := testWarmupEngine(db)

	identity := warmingIdentity(t, db, 1, "first@example.com", 0)
	warmingIdentity(t, db, 1, "second@example.com", 0)

	require.NoError(t, we.processIdentity(context.Background(), identity))

	var after models.SendingIdentity
	require.NoError(t, db.First(&after, identity.ID).Error)
	assert.Equal(t, 1, after.WarmupDay)
	assert.Equal(t, DailyLimitForDay(1), after.DailyLimit)

	var entry models.WarmupLog
	require.NoError(t, db.Where("identity_id = ?", identity.ID).First(&entry).Error)
	total := entry.EmailsSent + entry.Bounces
	assert.GreaterOrEqual(t, total, 2, "day 1 targets 2-3 synthetic sends")
	assert.LessOrEqual(t, total, 3)
}

func TestWarmupCompletesRampAfterLastDay(t *testing.T) {
	db := testDB(t)
	we := testWarmupEngine(db)

	done := warmingIdentity(t, db, 1, "done@example.com", 28)

	require.NoError(t, we.RunDailyCycle(context.Background()))

	var after models.SendingIdentity
	require.NoError(t, db.First(&after, done.ID).Error)
	assert.Equal(t, models.WarmupReady, after.WarmupStatus)
	assert.Equal(t, rampCompleteLimit, after.DailyLimit)
}

func TestWarmupRampCompletionNeedsNoSiblings(t *testing.T) {
	db := testDB(t)
	we := testWarmupEngine(db)

	// The workspace's other identity was deleted mid-ramp; completion must not
	// depend on synthetic traffic being possible.
	done := warmingIdentity(t, db, 1, "solo@example.com", 30)

	require.NoError(t, we.processIdentity(context.Background(), done))

	var after models.SendingIdentity
	require.NoError(t, db.First(&after, done.ID).Error)
	assert.Equal(t, models.WarmupReady, after.WarmupStatus)
}

func TestWarmupLeavesReadyIdentitiesAlone(t *testing.T) {
	db := testDB(t)
	we := testWarmupEngine(db)

	ready := models.SendingIdentity{
		UserID:       1,
		Address:      "ready@example.com",
		FromName:     "Ready Sender",
		WarmupStatus: models.WarmupReady,
		WarmupDay:    28,
		DailyLimit:   rampCompleteLimit,
		HealthScore:  100,
	}
	require.NoError(t, db.Create(&ready).Error)

	require.NoError(t, we.RunDailyCycle(context.Background()))

	var after models.SendingIdentity
	require.NoError(t, db.First(&after, ready.ID).Error)
	assert.Equal(t, models.WarmupReady, after.WarmupStatus)
	assert.Equal(t, 28, after.WarmupDay)
}
