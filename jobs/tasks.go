package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/apotheca/apotheca/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan reports warehouse lots approaching expiry.
	TaskExpiryScan = "inventory:expiry_scan"
	// TaskIdempotencyCleanup purges request keys past their retention.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ExpiryScanPayload overrides the configured warning window for one run.
type ExpiryScanPayload struct {
	WithinDays int `json:"within_days,omitempty"`
}

// IdempotencyCleanupPayload overrides the configured retention for one run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewExpiryScanTask constructs an expiry scan task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewTask builds a task of the given type with its default payload.
func NewTask(taskType string) (*asynq.Task, error) {
	switch taskType {
	case TaskExpiryScan:
		return NewExpiryScanTask(ExpiryScanPayload{})
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	}
	return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
}

// Schedules returns the periodic registrations run by the worker.
func Schedules() ([]CronRegistration, error) {
	scan, err := NewExpiryScanTask(ExpiryScanPayload{})
	if err != nil {
		return nil, err
	}
	cleanup, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: "0 6 * * *", Task: scan, Options: []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}},
		{Spec: "30 3 * * *", Task: cleanup, Options: []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}},
	}, nil
}
