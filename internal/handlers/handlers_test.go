package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/groundedsam/internal/auth"
	"github.com/example/groundedsam/internal/codec"
	"github.com/example/groundedsam/internal/groundedsam"
	"github.com/example/groundedsam/internal/npy"
	"github.com/example/groundedsam/internal/repository"
	"github.com/example/groundedsam/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubRepository struct {
	saved []*repository.CallLog
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.CallLog) error {
	s.saved = append(s.saved, log)
	return nil
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.CallLog, error) {
	for _, log := range s.saved {
		if log.RequestID == requestID && log.UserID == userID {
			return log, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindByImageHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.CallLog, error) {
	return nil, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{TotalCount: int64(len(s.saved))}, nil
}

type memoryCache struct {
	values map[string]string
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	if s, ok := value.(string); ok {
		m.values[key] = s
	}
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("cache disabled")
}

type stubSegmenter struct {
	out      *codec.Output
	err      error
	params   groundedsam.Params
	input    groundedsam.Input
	readyErr error
}

func (s *stubSegmenter) Call(ctx context.Context, in groundedsam.Input, p groundedsam.Params) (*codec.Output, error) {
	s.input = in
	s.params = p
	return s.out, s.err
}

func (s *stubSegmenter) Ready(ctx context.Context) error { return s.readyErr }

type filePart struct {
	field       string
	contentType string
	payload     []byte
}

func newTestRouter(t *testing.T, seg *stubSegmenter) (*gin.Engine, *stubRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier(testJWTSecret, "")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	repo := &stubRepository{}
	uc := &usecase.SegmentationUseCase{}
	if seg != nil {
		uc = usecase.NewSegmentationUseCase(repo, &memoryCache{}, seg, nil, nil, zap.NewNop())
	}

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc, verifier.Middleware(), Options{})
	return router, repo
}

func TestSegmentRejectsLargeUpload(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body, contentType := buildMultipartBody(t, nil, filePart{"image", "image/png", bytes.Repeat([]byte("a"), int(MaxUploadSize)+1)})
	resp := postSegment(t, router, body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestSegmentRejectsUnsupportedContentType(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body, contentType := buildMultipartBody(t, nil, filePart{"image", "text/plain", []byte("hello")})
	resp := postSegment(t, router, body, contentType)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestSegmentRequiresImage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body, contentType := buildMultipartBody(t, map[string]string{"text_prompt": "tape"})
	resp := postSegment(t, router, body, contentType)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSegmentRejectsBadThreshold(t *testing.T) {
	router, _ := newTestRouter(t, &stubSegmenter{})

	body, contentType := buildMultipartBody(t,
		map[string]string{"box_threshold": "high"},
		filePart{"image", "image/png", pngBytes(t)},
	)
	resp := postSegment(t, router, body, contentType)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSegmentReturnsEnvelope(t *testing.T) {
	mask, err := npy.NewBool([]int{1, 2}, []bool{true, false})
	if err != nil {
		t.Fatalf("new mask: %v", err)
	}
	seg := &stubSegmenter{out: &codec.Output{
		FullImage: image.NewGray(image.Rect(0, 0, 2, 1)),
		Masks:     []*npy.Array{mask},
	}}
	router, repo := newTestRouter(t, seg)

	body, contentType := buildMultipartBody(t,
		map[string]string{
			"text_prompt":   "blue tape",
			"task_type":     "det",
			"box_threshold": "0.4",
			"scribble_mode": "split",
		},
		filePart{"image", "image/png", pngBytes(t)},
		filePart{"mask", "image/png", pngBytes(t)},
	)
	resp := postSegment(t, router, body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var decoded struct {
		RequestID string              `json:"request_id"`
		Output    codec.OutputMessage `json:"output"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.RequestID == "" {
		t.Fatal("expected request id")
	}
	if decoded.Output.MaskImage != nil {
		t.Fatal("expected mask_image to be omitted")
	}
	if decoded.Output.Masks == nil || len(*decoded.Output.Masks) != 1 {
		t.Fatalf("expected one mask, got %+v", decoded.Output.Masks)
	}
	got, err := codec.DecodeArray((*decoded.Output.Masks)[0])
	if err != nil || !got.Equal(mask) {
		t.Fatalf("mask did not survive the gateway: %v %+v", err, got)
	}

	if seg.input.Mask == nil {
		t.Fatal("expected mask upload to be forwarded")
	}
	if seg.params.TextPrompt != "blue tape" || seg.params.TaskType.Value() != "det" || seg.params.ScribbleMode.Value() != "split" {
		t.Fatalf("unexpected params %+v", seg.params)
	}
	if seg.params.BoxThreshold == nil || *seg.params.BoxThreshold != 0.4 || seg.params.TextThreshold != nil {
		t.Fatalf("unexpected thresholds %+v", seg.params)
	}
	if len(repo.saved) != 1 || repo.saved[0].UserID != "user-123" {
		t.Fatalf("expected call log for the token subject, got %+v", repo.saved)
	}
}

func TestSegmentMapsUpstreamErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", &groundedsam.TransportError{Op: "POST", URL: "u", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"refused", &groundedsam.TransportError{Op: "POST", URL: "u", Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"protocol", &groundedsam.ProtocolError{Field: "full_image"}, http.StatusBadGateway},
		{"decode", &codec.DecodeError{Field: "masks", Index: 0, Err: errors.New("bad")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubSegmenter{err: tc.err})
			body, contentType := buildMultipartBody(t, nil, filePart{"image", "image/png", pngBytes(t)})
			resp := postSegment(t, router, body, contentType)
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestSegmentRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body, contentType := buildMultipartBody(t, nil, filePart{"image", "image/png", pngBytes(t)})
	req := httptest.NewRequest(http.MethodPost, "/v1/segment", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestReadyReflectsUpstream(t *testing.T) {
	seg := &stubSegmenter{readyErr: groundedsam.ErrServiceNotReady}
	router, _ := newTestRouter(t, seg)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}

	seg.readyErr = nil
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func postSegment(t *testing.T, router *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/segment", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field %s: %v", name, err)
		}
	}

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="upload"`)
		header.Set("Content-Type", f.contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write(f.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSegmentRejectsOversizedDimensions(t *testing.T) {
	seg := &stubSegmenter{}
	router, _ := newTestRouter(t, seg)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 60000)
	binary.BigEndian.PutUint32(ihdr[4:], 60000)
	ihdr[8], ihdr[9] = 8, 6
	chunk := append([]byte("IHDR"), ihdr...)
	var header bytes.Buffer
	header.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&header, binary.BigEndian, uint32(len(ihdr)))
	header.Write(chunk)
	binary.Write(&header, binary.BigEndian, crc32.ChecksumIEEE(chunk))

	body, contentType := buildMultipartBody(t, nil, filePart{"image", "image/png", header.Bytes()})
	resp := postSegment(t, router, body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d: %s", http.StatusRequestEntityTooLarge, resp.Code, resp.Body.String())
	}
	if seg.input.Image != nil {
		t.Fatal("service must not be called for an oversized image")
	}
}
