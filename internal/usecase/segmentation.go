package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/groundedsam/internal/codec"
	"github.com/example/groundedsam/internal/groundedsam"
	"github.com/example/groundedsam/internal/logging"
	"github.com/example/groundedsam/internal/repository"
	"github.com/example/groundedsam/internal/retry"
)

// Outcome classes recorded in call logs and metrics.
const (
	outcomeSuccess   = "success"
	outcomeTransport = "transport"
	outcomeTimeout   = "timeout"
	outcomeProtocol  = "protocol"
	outcomeDecode    = "decode"
	outcomeEncode    = "encode"
	outcomeInternal  = "internal"
)

const (
	statusTTL  = time.Minute
	summaryTTL = 5 * time.Minute
)

// Segmenter is the subset of the Grounded-SAM client used by the use case.
type Segmenter interface {
	Call(ctx context.Context, in groundedsam.Input, p groundedsam.Params) (*codec.Output, error)
	Ready(ctx context.Context) error
}

// CallLogRepository defines the persistence operations needed by the use case.
type CallLogRepository interface {
	SaveLog(ctx context.Context, log *repository.CallLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.CallLog, error)
	FindByImageHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.CallLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SegmentationUseCase runs one gateway request against the service and
// records what happened.
type SegmentationUseCase struct {
	repo         CallLogRepository
	cache        Cache
	segmenter    Segmenter
	metrics      *Metrics
	logger       *zap.Logger
	openAIAPIKey *string
	policy       retry.Policy
}

// SegmentRequest is one upload to process.
type SegmentRequest struct {
	UserID string
	// ImageBytes is the uploaded file, used for duplicate detection only.
	ImageBytes []byte
	Input      groundedsam.Input
	Params     groundedsam.Params
}

// SegmentResult is the decoded output together with its request id.
type SegmentResult struct {
	RequestID string
	Output    *codec.Output
}

type cachedSummary struct {
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	TaskType     string    `json:"task_type"`
	Success      bool      `json:"success"`
	ErrorClass   string    `json:"error_class,omitempty"`
	MaskCount    int       `json:"mask_count"`
	HasMaskImage bool      `json:"has_mask_image"`
	LatencyMs    int64     `json:"latency_ms"`
	Details      string    `json:"details"`
	Hash         string    `json:"sha1_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// DuplicateReport lists other calls made on the same image.
type DuplicateReport struct {
	Request    *repository.CallLog
	Duplicates []*repository.CallLog
}

// NewSegmentationUseCase constructs a new use case instance. openAIAPIKey is
// forwarded when a request carries no credential of its own; it may be nil.
func NewSegmentationUseCase(repo CallLogRepository, cache Cache, segmenter Segmenter, metrics *Metrics, openAIAPIKey *string, logger *zap.Logger) *SegmentationUseCase {
	return &SegmentationUseCase{
		repo:         repo,
		cache:        cache,
		segmenter:    segmenter,
		metrics:      metrics,
		logger:       logger.Named("segmentation_usecase"),
		openAIAPIKey: openAIAPIKey,
		policy:       retry.DefaultPolicy,
	}
}

// Segment calls the service once and persists a summary of the outcome.
// Service errors are returned wrapped in *logging.OperationError and keep
// their original type for errors.As.
func (uc *SegmentationUseCase) Segment(ctx context.Context, req SegmentRequest) (*SegmentResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.segment", requestID)

	cacheKey := summaryKey(requestID)
	if err := retry.Do(ctx, uc.policy, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", statusTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	params := req.Params
	if params.OpenAIAPIKey == nil {
		params.OpenAIAPIKey = uc.openAIAPIKey
	}
	taskType := params.TaskType.Or(groundedsam.TaskSegmentation).Value()
	opLogger.Info("calling grounded sam",
		zap.String("task_type", taskType),
		zap.Bool("input_mask", req.Input.Mask != nil),
		logging.Secret("openai_api_key", params.OpenAIAPIKey),
	)

	start := time.Now()
	out, callErr := uc.segmenter.Call(ctx, req.Input, params)
	elapsed := time.Since(start)
	outcome := Outcome(callErr)
	uc.metrics.observe(metricTaskType(taskType), outcome, elapsed, maskCount(out))

	hash := sha1.Sum(req.ImageBytes)
	log := &repository.CallLog{
		RequestID:    requestID,
		UserID:       req.UserID,
		TaskType:     taskType,
		TextPrompt:   params.TextPrompt,
		ImageHash:    hex.EncodeToString(hash[:]),
		HasInputMask: req.Input.Mask != nil,
		Success:      callErr == nil,
		LatencyMs:    elapsed.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if callErr != nil {
		log.ErrorClass = outcome
		log.Details = callErr.Error()
	} else {
		log.HasMaskImage = out.MaskImage != nil
		log.MaskCount = maskCount(out)
		log.Details = fmt.Sprintf("task:%s masks:%d mask_image:%t", taskType, log.MaskCount, log.HasMaskImage)
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist call log", zap.Error(wrapped))
		if callErr == nil {
			return nil, wrapped
		}
	}

	if callErr != nil {
		wrapped := logging.NewOperationError("usecase.grounded_sam_call", requestID, callErr)
		opLogger.Error("grounded sam call failed", zap.String("outcome", outcome), zap.Error(callErr))
		_ = uc.cacheSummary(ctx, log)
		return nil, wrapped
	}

	if err := uc.cacheSummary(ctx, log); err != nil {
		opLogger.Error("failed to cache call summary", zap.Error(err))
		return nil, err
	}
	return &SegmentResult{RequestID: requestID, Output: out}, nil
}

func (uc *SegmentationUseCase) cacheSummary(ctx context.Context, log *repository.CallLog) error {
	serialized, err := json.Marshal(cachedSummary{
		RequestID:    log.RequestID,
		UserID:       log.UserID,
		TaskType:     log.TaskType,
		Success:      log.Success,
		ErrorClass:   log.ErrorClass,
		MaskCount:    log.MaskCount,
		HasMaskImage: log.HasMaskImage,
		LatencyMs:    log.LatencyMs,
		Details:      log.Details,
		Hash:         log.ImageHash,
		CreatedAt:    log.CreatedAt,
	})
	if err != nil {
		return err
	}
	return retry.Do(ctx, uc.policy, uc.logger, "cache.set.result", log.RequestID, func() error {
		return uc.cache.Set(ctx, summaryKey(log.RequestID), string(serialized), summaryTTL)
	})
}

// GetResult retrieves a cached call summary or loads it from persistence.
func (uc *SegmentationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.CallLog, error) {
	cached, err := uc.getCached(ctx, requestID)
	switch {
	case err == nil:
		var payload cachedSummary
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Debug("cached value is not a summary", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.CallLog{
				RequestID:    payload.RequestID,
				UserID:       payload.UserID,
				TaskType:     payload.TaskType,
				ImageHash:    payload.Hash,
				HasMaskImage: payload.HasMaskImage,
				MaskCount:    payload.MaskCount,
				Success:      payload.Success,
				ErrorClass:   payload.ErrorClass,
				Details:      payload.Details,
				LatencyMs:    payload.LatencyMs,
				CreatedAt:    payload.CreatedAt,
			}, nil
		}
	case !errors.Is(err, redis.Nil):
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport lists the owner's other calls on the same image.
func (uc *SegmentationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindByImageHash(ctx, userID, log.ImageHash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// Ready reports whether the upstream service is reachable and bootstrapped.
func (uc *SegmentationUseCase) Ready(ctx context.Context) error {
	return uc.segmenter.Ready(ctx)
}

func (uc *SegmentationUseCase) getCached(ctx context.Context, requestID string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.policy, uc.logger, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, summaryKey(requestID))
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// Outcome classifies a Segmenter error into the label used in logs and
// metrics.
func Outcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var transportErr *groundedsam.TransportError
	var protocolErr *groundedsam.ProtocolError
	var decodeErr *codec.DecodeError
	var encodeErr *codec.EncodeError
	switch {
	case errors.As(err, &transportErr):
		if transportErr.Timeout() {
			return outcomeTimeout
		}
		return outcomeTransport
	case errors.As(err, &protocolErr):
		return outcomeProtocol
	case errors.As(err, &decodeErr):
		return outcomeDecode
	case errors.As(err, &encodeErr):
		return outcomeEncode
	}
	return outcomeInternal
}

func metricTaskType(taskType string) string {
	if groundedsam.TaskType(taskType).IsKnown() {
		return taskType
	}
	return "other"
}

func maskCount(out *codec.Output) int {
	if out == nil {
		return 0
	}
	return len(out.Masks)
}

func summaryKey(requestID string) string {
	return "segmentation:" + requestID
}
