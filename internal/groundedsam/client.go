// Package groundedsam is a client for the Grounded-SAM HTTP service: it
// validates and normalizes task options, posts one request and decodes the
// response envelope through the codec package.
package groundedsam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/groundedsam/internal/codec"
)

const (
	// DefaultEndpoint is the address used by the reference deployment.
	DefaultEndpoint = "http://127.0.0.1:8080"
	// DefaultTimeout bounds every call.
	DefaultTimeout = 60 * time.Second

	callPath          = "/v1/grounded_sam"
	defaultHealthPath = "/health"
	maxErrorBody      = 512
)

// Client calls the service. It holds only configuration fixed at
// construction and is safe for concurrent use.
type Client struct {
	endpoint   string
	healthPath string
	http       *resty.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	logger     *zap.Logger
	httpClient *http.Client
	healthPath string
	userAgent  string
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithLogger sets the logger. Calls are not logged by default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithHealthPath sets the path probed by Ready.
func WithHealthPath(path string) Option {
	return func(o *clientOptions) { o.healthPath = path }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) { o.userAgent = ua }
}

// New returns a client for the service at endpoint, e.g.
// "http://127.0.0.1:8080".
func New(endpoint string, opts ...Option) *Client {
	o := clientOptions{
		timeout:    DefaultTimeout,
		healthPath: defaultHealthPath,
		userAgent:  "groundedsam-go/1.0",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(o.healthPath, "/") {
		o.healthPath = "/" + o.healthPath
	}

	var rc *resty.Client
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(endpoint).
		SetTimeout(o.timeout).
		SetHeader("User-Agent", o.userAgent).
		SetLogger(o.logger.Sugar())

	return &Client{
		endpoint:   endpoint,
		healthPath: o.healthPath,
		http:       rc,
		logger:     o.logger.Named("groundedsam"),
	}
}

// Endpoint returns the normalized service address.
func (c *Client) Endpoint() string { return c.endpoint }

// Call sends one request built from in and p and decodes the result. Errors
// are *TransportError, *ProtocolError, *codec.DecodeError or, for inputs that
// cannot be encoded, *codec.EncodeError.
func (c *Client) Call(ctx context.Context, in Input, p Params) (*codec.Output, error) {
	wire, err := encodeInput(in)
	if err != nil {
		return nil, err
	}
	payload := newPayload(wire, p)
	return c.send(ctx, payload)
}

func (c *Client) send(ctx context.Context, payload *Payload) (*codec.Output, error) {
	start := time.Now()
	fields := []zap.Field{zap.String("task_type", payload.TaskType)}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(payload).
		Post(callPath)
	if err != nil {
		wrapped := &TransportError{Op: http.MethodPost, URL: c.endpoint + callPath, Err: err}
		c.logger.Error("grounded sam request failed", append(fields, zap.Error(wrapped), zap.Duration("elapsed", time.Since(start)))...)
		return nil, wrapped
	}
	fields = append(fields, zap.Int("status", resp.StatusCode()), zap.Duration("elapsed", time.Since(start)))

	msg, err := parseOutputMessage(resp.StatusCode(), resp.Body())
	if err != nil {
		c.logger.Error("grounded sam response rejected", append(fields, zap.Error(err))...)
		return nil, err
	}

	out, err := codec.DecodeOutput(msg)
	if err != nil {
		c.logger.Error("grounded sam response decode failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	c.logger.Debug("grounded sam call completed", append(fields,
		zap.Bool("mask_image", out.MaskImage != nil),
		zap.Int("masks", len(out.Masks)),
	)...)
	return out, nil
}

// parseOutputMessage checks the envelope shape field by field, so the error
// names what the server got wrong.
func parseOutputMessage(status int, body []byte) (*codec.OutputMessage, error) {
	if status < 200 || status > 299 {
		return nil, &ProtocolError{StatusCode: status, Err: fmt.Errorf("body: %s", truncate(body, maxErrorBody))}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("body is not a JSON object")
		}
		return nil, &ProtocolError{StatusCode: status, Err: err}
	}

	msg := &codec.OutputMessage{}
	raw, ok := fields[codec.FieldFullImage]
	if !ok || isNull(raw) {
		return nil, &ProtocolError{Field: codec.FieldFullImage, StatusCode: status, Err: errors.New("required field missing")}
	}
	if err := json.Unmarshal(raw, &msg.FullImage); err != nil {
		return nil, &ProtocolError{Field: codec.FieldFullImage, StatusCode: status, Err: err}
	}
	if raw, ok := fields[codec.FieldMaskImage]; ok {
		if err := json.Unmarshal(raw, &msg.MaskImage); err != nil {
			return nil, &ProtocolError{Field: codec.FieldMaskImage, StatusCode: status, Err: err}
		}
	}
	if raw, ok := fields[codec.FieldMasks]; ok {
		if err := json.Unmarshal(raw, &msg.Masks); err != nil {
			return nil, &ProtocolError{Field: codec.FieldMasks, StatusCode: status, Err: err}
		}
	}
	return msg, nil
}

// Ready probes the health path. It lets callers check that the service has
// finished its model bootstrap before the first call.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.healthPath)
	if err != nil {
		return &TransportError{Op: http.MethodGet, URL: c.endpoint + c.healthPath, Err: err}
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d", ErrServiceNotReady, resp.StatusCode())
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
