package utils

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"outreachly/models"
)

// Retry backoff: 30s, 120s, 480s for a 3-attempt policy.
const (
	retryBaseDelay  = 30 * time.Second
	retryMultiplier = 4
)

// ErrAttemptsExhausted is returned by Fail when the job has been dead-lettered
// and the caller must mark the underlying business entity failed.
var ErrAttemptsExhausted = fmt.Errorf("job attempts exhausted")

// JobQueue is an at-least-once work queue on top of the durable store. Claiming
// relies on a conditional row update, so multiple processes can drain the same
// queue safely without in-process locks.
type JobQueue struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewJobQueue(db *gorm.DB, logger *log.Logger) *JobQueue {
	return &JobQueue{
		DB:     db,
		Logger: logger,
	}
}

// Enqueue creates a pending job that is immediately eligible to run.
func (q *JobQueue) Enqueue(kind, payload string, priority int) (*models.Job, error) {
	job := models.Job{
		JobID:       uuid.New().String(),
		Kind:        kind,
		Payload:     payload,
		Priority:    priority,
		Status:      models.JobPending,
		MaxAttempts: 3,
		NotBefore:   time.Now(),
	}
	if err := q.DB.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return &job, nil
}

// ClaimNext selects the highest-priority pending job whose not-before time has
// passed (FIFO within a priority band) and atomically marks it processing.
// It returns nil when nothing qualifies or another worker won the race; the
// caller treats both the same way and may simply retry on the next cycle.
func (q *JobQueue) ClaimNext() (*models.Job, error) {
	var job models.Job
	err := q.DB.Where("status = ? AND not_before <= ?", models.JobPending, time.Now()).
		Order("priority DESC").
		Order("created_at ASC").
		First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending job: %w", err)
	}

	if err := models.CheckJobTransition(job.Status, models.JobProcessing); err != nil {
		return nil, err
	}

	now := time.Now()
	res := q.DB.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobPending).
		Updates(map[string]interface{}{
			"status":     models.JobProcessing,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.JobID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Another worker claimed it first. Not an error, just a missed turn.
		return nil, nil
	}

	job.Status = models.JobProcessing
	job.StartedAt = &now
	return &job, nil
}

// Complete marks a processing job as done.
func (q *JobQueue) Complete(job *models.Job) error {
	if err := models.CheckJobTransition(job.Status, models.JobCompleted); err != nil {
		return err
	}
	now := time.Now()
	if err := q.DB.Model(job).Updates(map[string]interface{}{
		"status":       models.JobCompleted,
		"completed_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
	}
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	return nil
}

// Reschedule returns the job to pending with a new not-before time without
// touching the attempt counter. Used for policy deferrals such as "outside
// sending window", which are not failures.
func (q *JobQueue) Reschedule(job *models.Job, notBefore time.Time) error {
	if err := models.CheckJobTransition(job.Status, models.JobPending); err != nil {
		return err
	}
	if err := q.DB.Model(job).Updates(map[string]interface{}{
		"status":     models.JobPending,
		"not_before": notBefore,
	}).Error; err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.JobID, err)
	}
	job.Status = models.JobPending
	job.NotBefore = notBefore
	return nil
}

// Fail records a failed attempt. Below the attempt ceiling the job goes back
// to pending with an exponential backoff; at the ceiling it is dead-lettered
// and ErrAttemptsExhausted tells the caller to fail the business entity too.
func (q *JobQueue) Fail(job *models.Job, cause error) error {
	job.Attempts++
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		if err := models.CheckJobTransition(job.Status, models.JobDead); err != nil {
			return err
		}
		if err := q.DB.Model(job).Updates(map[string]interface{}{
			"status":     models.JobDead,
			"attempts":   job.Attempts,
			"last_error": msg,
		}).Error; err != nil {
			return fmt.Errorf("failed to dead-letter job %s: %w", job.JobID, err)
		}
		job.Status = models.JobDead
		job.LastError = msg
		q.Logger.Printf("Job %s dead-lettered after %d attempts: %s", job.JobID, job.Attempts, msg)
		return ErrAttemptsExhausted
	}

	if err := models.CheckJobTransition(job.Status, models.JobPending); err != nil {
		return err
	}
	notBefore := time.Now().Add(BackoffDelay(job.Attempts))
	if err := q.DB.Model(job).Updates(map[string]interface{}{
		"status":     models.JobPending,
		"attempts":   job.Attempts,
		"last_error": msg,
		"not_before": notBefore,
	}).Error; err != nil {
		return fmt.Errorf("failed to retry job %s: %w", job.JobID, err)
	}
	job.Status = models.JobPending
	job.LastError = msg
	job.NotBefore = notBefore
	return nil
}

// Kill dead-letters a job immediately, bypassing the retry budget. Used for
// unrecoverable data errors such as a payload reference that cannot resolve.
func (q *JobQueue) Kill(job *models.Job, cause error) error {
	if err := models.CheckJobTransition(job.Status, models.JobDead); err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.DB.Model(job).Updates(map[string]interface{}{
		"status":     models.JobDead,
		"last_error": msg,
	}).Error; err != nil {
		return fmt.Errorf("failed to kill job %s: %w", job.JobID, err)
	}
	job.Status = models.JobDead
	job.LastError = msg
	q.Logger.Printf("Job %s killed: %s", job.JobID, msg)
	return nil
}

// Delay pushes back the not-before time of an already pending job, e.g. to
// honor a provider retry-after hint that exceeds the computed backoff.
func (q *JobQueue) Delay(job *models.Job, notBefore time.Time) error {
	if job.Status != models.JobPending {
		return fmt.Errorf("cannot delay job %s in status %s", job.JobID, job.Status)
	}
	if err := q.DB.Model(job).Update("not_before", notBefore).Error; err != nil {
		return fmt.Errorf("failed to delay job %s: %w", job.JobID, err)
	}
	job.NotBefore = notBefore
	return nil
}

// BackoffDelay returns the delay before retry number attempts+1, i.e.
// 30s after the first failure, then 120s, then 480s.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return retryBaseDelay * time.Duration(math.Pow(retryMultiplier, float64(attempts-1)))
}
