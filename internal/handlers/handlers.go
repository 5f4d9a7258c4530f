package handlers

import (
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/groundedsam/internal/auth"
	"github.com/example/groundedsam/internal/codec"
	"github.com/example/groundedsam/internal/groundedsam"
	"github.com/example/groundedsam/internal/usecase"
)

// MaxUploadSize is the default limit for each uploaded file.
const MaxUploadSize int64 = 10 << 20

var allowedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/bmp",
	"image/tiff",
	"image/webp",
}

var errUnsupportedMediaType = errors.New("unsupported media type")

// Options configure the gateway routes.
type Options struct {
	// MaxUploadBytes limits each uploaded file. Zero means MaxUploadSize.
	MaxUploadBytes int64
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
	Logger  *zap.Logger
}

type handler struct {
	uc        *usecase.SegmentationUseCase
	maxUpload int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.SegmentationUseCase, authMiddleware gin.HandlerFunc, opts Options) {
	h := &handler{uc: uc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}
	if h.maxUpload <= 0 {
		h.maxUpload = MaxUploadSize
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", h.ready)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1", authMiddleware)
	v1.POST("/segment", h.segment)
	v1.GET("/results/:id", h.result)
	v1.GET("/results/:id/duplicates", h.duplicates)
	v1.GET("/metrics/summary", h.metricsSummary)
}

func (h *handler) ready(c *gin.Context) {
	if err := h.uc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handler) segment(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Two files plus form fields; the per-file limit is checked below.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxUpload+1<<20)

	imageFile, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	imageData, img, status, err := h.readImage(imageFile)
	if err != nil {
		c.JSON(status, gin.H{"error": fmt.Sprintf("image: %v", err)})
		return
	}

	var mask image.Image
	maskFile, err := c.FormFile("mask")
	switch {
	case err == nil:
		_, mask, status, err = h.readImage(maskFile)
		if err != nil {
			c.JSON(status, gin.H{"error": fmt.Sprintf("mask: %v", err)})
			return
		}
	case !errors.Is(err, http.ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mask upload"})
		return
	}

	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.uc.Segment(c.Request.Context(), usecase.SegmentRequest{
		UserID:     userID,
		ImageBytes: imageData,
		Input:      groundedsam.Input{Image: img, Mask: mask},
		Params:     params,
	})
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("segment request failed", zap.Int("status", status), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error(), "outcome": usecase.Outcome(err)})
		return
	}

	msg, err := codec.EncodeOutput(res.Output)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode output"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": res.RequestID,
		"output":     msg,
	})
}

// readImage returns the raw bytes and the decoded raster of an upload along
// with the status to report when it is rejected.
func (h *handler) readImage(file *multipart.FileHeader) ([]byte, image.Image, int, error) {
	if file.Size > h.maxUpload {
		return nil, nil, http.StatusRequestEntityTooLarge, errors.New("file too large")
	}

	src, err := file.Open()
	if err != nil {
		return nil, nil, http.StatusBadRequest, errors.New("unable to open upload")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		return nil, nil, http.StatusInternalServerError, errors.New("failed to read upload")
	}
	if int64(len(data)) > h.maxUpload {
		return nil, nil, http.StatusRequestEntityTooLarge, errors.New("file too large")
	}

	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), allowedImageTypes...) {
		return nil, nil, http.StatusUnsupportedMediaType, fmt.Errorf("%w: %s", errUnsupportedMediaType, detected.String())
	}

	img, _, err := codec.DecodeRaster(data)
	if errors.Is(err, codec.ErrImageTooLarge) {
		return nil, nil, http.StatusRequestEntityTooLarge, err
	}
	if err != nil {
		return nil, nil, http.StatusBadRequest, fmt.Errorf("decode %s: %w", detected.String(), err)
	}
	return data, img, http.StatusOK, nil
}

func parseParams(c *gin.Context) (groundedsam.Params, error) {
	p := groundedsam.Params{TextPrompt: c.PostForm("text_prompt")}

	if v := strings.TrimSpace(c.PostForm("task_type")); v != "" {
		p.TaskType = groundedsam.TaskTypeOf(v)
	}
	if v := strings.TrimSpace(c.PostForm("inpaint_mode")); v != "" {
		p.InpaintMode = groundedsam.InpaintModeOf(v)
	}
	if v := strings.TrimSpace(c.PostForm("scribble_mode")); v != "" {
		p.ScribbleMode = groundedsam.ScribbleModeOf(v)
	}
	if v, ok := c.GetPostForm("inpaint_prompt"); ok {
		p.InpaintPrompt = groundedsam.String(v)
	}

	thresholds := []struct {
		field string
		dst   **float64
	}{
		{"box_threshold", &p.BoxThreshold},
		{"text_threshold", &p.TextThreshold},
		{"iou_threshold", &p.IoUThreshold},
	}
	for _, th := range thresholds {
		raw := strings.TrimSpace(c.PostForm(th.field))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, fmt.Errorf("%s must be a number", th.field)
		}
		*th.dst = groundedsam.Float(f)
	}
	return p, nil
}

// statusFor maps a use case failure to the gateway response status.
func statusFor(err error) int {
	switch usecase.Outcome(err) {
	case "timeout":
		return http.StatusGatewayTimeout
	case "transport", "protocol", "decode":
		return http.StatusBadGateway
	case "encode":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *handler) result(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	log, err := h.uc.GetResult(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":     log.RequestID,
		"task_type":      log.TaskType,
		"success":        log.Success,
		"error_class":    log.ErrorClass,
		"mask_count":     log.MaskCount,
		"has_mask_image": log.HasMaskImage,
		"latency_ms":     log.LatencyMs,
		"details":        log.Details,
		"created_at":     log.CreatedAt,
	})
}

func (h *handler) duplicates(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	report, err := h.uc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, gin.H{
			"request_id": d.RequestID,
			"task_type":  d.TaskType,
			"success":    d.Success,
			"created_at": d.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.ImageHash,
		"duplicates": duplicates,
	})
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
