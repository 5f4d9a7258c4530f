package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/groundedsam/internal/retry"
)

// CallLog records one gateway call to the Grounded-SAM service. Images are
// never stored, only their SHA-1.
type CallLog struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID       string    `gorm:"column:user_id;index;size:64"`
	TaskType     string    `gorm:"column:task_type;size:32"`
	TextPrompt   string    `gorm:"column:text_prompt;type:text"`
	ImageHash    string    `gorm:"column:image_sha1;index;size:40"`
	HasInputMask bool      `gorm:"column:has_input_mask"`
	HasMaskImage bool      `gorm:"column:has_mask_image"`
	MaskCount    int       `gorm:"column:mask_count"`
	Success      bool      `gorm:"column:success"`
	ErrorClass   string    `gorm:"column:error_class;size:32"`
	Details      string    `gorm:"column:details;type:text"`
	LatencyMs    int64     `gorm:"column:latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (CallLog) TableName() string {
	return "segmentation_calls"
}

// MetricsAggregation holds raw aggregates over all calls.
type MetricsAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageLatencyMs float64
	AverageMaskCount float64
}

// CallLogRepository provides persistence APIs for call logs.
type CallLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewCallLogRepository creates a new repository instance.
func NewCallLogRepository(db *gorm.DB, logger *zap.Logger) *CallLogRepository {
	return &CallLogRepository{
		db:     db,
		logger: logger.Named("call_log_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CallLogRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CallLog{})
}

// SaveLog persists a call log entry.
func (r *CallLogRepository) SaveLog(ctx context.Context, log *CallLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a call log matching the request and owner.
func (r *CallLogRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*CallLog, error) {
	var log CallLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindByImageHash lists the owner's other calls made on the same image,
// newest first.
func (r *CallLogRepository) FindByImageHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*CallLog, error) {
	var logs []*CallLog
	err := r.executeWithRetry(ctx, "repository.find_by_image_hash", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND image_sha1 = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals and averages across every call.
func (r *CallLogRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&CallLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms, " +
				"COALESCE(AVG(mask_count), 0) AS average_mask_count").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *CallLogRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, requestID, fn)
}
