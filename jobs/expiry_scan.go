package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/apotheca/apotheca/internal/inventory"
	jobmetrics "github.com/apotheca/apotheca/internal/jobs"
)

// ExpiringLotsSource lists warehouse lots with stock that expire soon.
type ExpiringLotsSource interface {
	ExpiringLots(ctx context.Context, within time.Duration) ([]inventory.WarehouseLot, error)
}

// ExpiryScanJob logs warehouse lots that enter the expiry warning window.
type ExpiryScanJob struct {
	Lots    ExpiringLotsSource
	Window  time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpiryScanJob initialises the expiry scan handler.
func NewExpiryScanJob(lots ExpiringLotsSource, window time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{
		Lots:    lots,
		Window:  window,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Lots == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	window := j.Window
	if payload.WithinDays > 0 {
		window = time.Duration(payload.WithinDays) * 24 * time.Hour
	}

	tracker := j.metrics().Track(TaskExpiryScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Duration("window", window))
	lots, err := j.Lots.ExpiringLots(ctx, window)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}

	today := inventory.Day(j.now())
	var units int64
	for _, lot := range lots {
		units += lot.Quantity
		level := slog.LevelWarn
		if lot.Expired(today) {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "lot nearing expiry",
			slog.String("item_code", lot.ItemCode),
			slog.String("batch_no", lot.BatchNo),
			slog.String("expiry_date", lot.ExpiryDate.Format(time.DateOnly)),
			slog.Int("days_left", int(lot.ExpiryDate.Sub(today).Hours()/24)),
			slog.Int64("quantity", lot.Quantity),
		)
	}
	j.metrics().SetExpiringLots(len(lots))
	logger.Info("expiry scan completed", slog.Int("lots", len(lots)), slog.Int64("units", units))
	return nil
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskExpiryScan))
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpiryScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
