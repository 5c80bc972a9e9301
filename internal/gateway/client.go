// Package gateway issues the calls to the remote analysis service and turns
// transport failures into typed errors.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/config"
	"github.com/hyperjump/datalens/internal/metrics"
	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/pkg/utils"
)

// Operation names used in errors, logs and metrics.
const (
	OpUpload     = "upload"
	OpGenerate3D = "3d_generate"
	OpChat       = "chat"
)

const maxDetailLen = 500

// Client talks to the remote analysis service.
type Client struct {
	cfg    config.GatewayConfig
	http   *resty.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the service at cfg.BaseURL. Per-call timeouts
// come from cfg; there are no automatic retries.
func New(cfg config.GatewayConfig, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("User-Agent", cfg.UserAgent),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RawAnalysisResult holds the unvalidated bodies of the upload and
// 3D-generate calls.
type RawAnalysisResult struct {
	Upload     json.RawMessage
	Generate3D json.RawMessage
}

// RawChatResult holds the unvalidated body of a chat call.
type RawChatResult struct {
	Body json.RawMessage
}

// ChatMessage is one entry of the chat history. Role and Type carry the same
// speaker in the two tagging schemes the service has accepted.
type ChatMessage struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// UserMessage returns a history entry for a question.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Type: "human", Content: content}
}

// AssistantMessage returns a history entry for an answer.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Type: "ai", Content: content}
}

type sourceRequest struct {
	Source string `json:"source"`
}

type chatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// SubmitForAnalysis uploads the data source and then requests its 3D
// schema. The second call is only made if the first succeeds.
func (c *Client) SubmitForAnalysis(ctx context.Context, ds *models.DataSource) (*RawAnalysisResult, error) {
	req, err := sourceOf(ds)
	if err != nil {
		return nil, err
	}
	upload, err := c.post(ctx, OpUpload, c.cfg.UploadPath, c.cfg.UploadTimeout, req)
	if err != nil {
		return nil, err
	}
	generated, err := c.post(ctx, OpGenerate3D, c.cfg.GeneratePath, c.cfg.GenerateTimeout, req)
	if err != nil {
		return nil, err
	}
	return &RawAnalysisResult{Upload: upload, Generate3D: generated}, nil
}

// Ask re-uploads the data source, which the service needs before every chat
// call, and then sends the conversation history.
func (c *Client) Ask(ctx context.Context, history []ChatMessage, ds *models.DataSource) (*RawChatResult, error) {
	req, err := sourceOf(ds)
	if err != nil {
		return nil, err
	}
	// TODO: drop the re-upload once the service keeps sessions between chat calls.
	if _, err := c.post(ctx, OpUpload, c.cfg.UploadPath, c.cfg.ChatTimeout, req); err != nil {
		return nil, err
	}
	body, err := c.post(ctx, OpChat, c.cfg.ChatPath, c.cfg.ChatTimeout, chatRequest{Messages: history})
	if err != nil {
		return nil, err
	}
	return &RawChatResult{Body: body}, nil
}

func sourceOf(ds *models.DataSource) (sourceRequest, error) {
	if ds == nil {
		return sourceRequest{}, apperrors.NewValidationError("dataSource", "is required")
	}
	src := ds.SourceIdentifier()
	if src == "" {
		return sourceRequest{}, apperrors.NewValidationError("source", "is required")
	}
	return sourceRequest{Source: src}, nil
}

func (c *Client) post(ctx context.Context, op, path string, timeout time.Duration, body any) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body).
		Post(path)
	elapsed := time.Since(start)
	metrics.GatewayDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if err != nil {
		gerr := &apperrors.GatewayError{Op: op, Kind: apperrors.GatewayNetwork, Detail: err.Error(), Err: err}
		outcome := metrics.OutcomeError
		if isTimeout(ctx, err) {
			gerr.Kind = apperrors.GatewayTimeout
			gerr.Detail = "no response within " + timeout.String()
			outcome = metrics.OutcomeTimeout
		}
		metrics.GatewayRequests.WithLabelValues(op, outcome).Inc()
		c.logger.Warn("analysis service call failed",
			zap.String("op", op),
			zap.String("kind", string(gerr.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, gerr
	}

	if !resp.IsSuccess() {
		metrics.GatewayRequests.WithLabelValues(op, metrics.OutcomeError).Inc()
		gerr := &apperrors.GatewayError{
			Op:         op,
			Kind:       apperrors.GatewayStatus,
			StatusCode: resp.StatusCode(),
			Detail:     errorDetail(resp.Body(), resp.StatusCode()),
		}
		c.logger.Warn("analysis service returned an error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("detail", gerr.Detail),
			zap.Duration("elapsed", elapsed))
		return nil, gerr
	}

	metrics.GatewayRequests.WithLabelValues(op, metrics.OutcomeOK).Inc()
	c.logger.Debug("analysis service call succeeded",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("elapsed", elapsed))
	return rawBody(resp.Body()), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rawBody keeps a response body as JSON: empty bodies become {} and anything
// that is not valid JSON is stored as a JSON string.
func rawBody(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

// errorDetail pulls a human-readable message out of an error body: "detail",
// then "message", then the raw text.
func errorDetail(body []byte, status int) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"detail", "message"} {
			v, ok := obj[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				if s != "" {
					return utils.Truncate(s, maxDetailLen)
				}
				continue
			}
			if string(v) != "null" {
				return utils.Truncate(string(v), maxDetailLen)
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return utils.Truncate(text, maxDetailLen)
	}
	return http.StatusText(status)
}
