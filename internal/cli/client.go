package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hyperjump/datalens/internal/models"
)

// Submission is returned by both submit endpoints.
type Submission struct {
	DataSourceID string        `json:"dataSourceId"`
	AnalysisID   string        `json:"analysisId"`
	Status       models.Status `json:"status"`
}

// Answer is the reply to a question.
type Answer struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	IsMarkdown bool      `json:"isMarkdown"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats is the server's record and disk summary.
type Stats struct {
	DataSources int64                   `json:"dataSources"`
	Analyses    map[models.Status]int64 `json:"analyses"`
	DiskTotal   int64                   `json:"diskUsageBytes"`
}

// APIError is a non-success reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client talks to a running datalens server.
type Client struct {
	http *resty.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithOwner sends owner in header, for servers without token auth.
func WithOwner(header, owner string) ClientOption {
	return func(c *Client) {
		if header != "" && owner != "" {
			c.http.SetHeader(header, owner)
		}
	}
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitDatabase registers a database and starts its analysis.
func (c *Client) SubmitDatabase(ctx context.Context, input models.DatabaseInput) (*Submission, error) {
	var out Submission
	err := c.do(c.http.R().SetContext(ctx).SetBody(input), http.MethodPost, "/api/v1/datasource/database", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitFile uploads a CSV or XLSX file and starts its analysis.
func (c *Client) SubmitFile(ctx context.Context, path, name string) (*Submission, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	req := c.http.R().SetContext(ctx).SetFileReader("file", filepath.Base(path), f)
	if name != "" {
		req.SetFormData(map[string]string{"name": name})
	}
	var out Submission
	if err := c.do(req, http.MethodPost, "/api/v1/datasource/file", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DataSources lists the caller's data sources.
func (c *Client) DataSources(ctx context.Context, offset, limit int) ([]models.DataSource, error) {
	var out []models.DataSource
	err := c.do(c.http.R().SetContext(ctx).SetQueryParams(page(offset, limit)), http.MethodGet, "/api/v1/datasource", &out)
	return out, err
}

// Analyses lists the caller's analyses, newest first.
func (c *Client) Analyses(ctx context.Context, offset, limit int) ([]models.Analysis, error) {
	var out []models.Analysis
	err := c.do(c.http.R().SetContext(ctx).SetQueryParams(page(offset, limit)), http.MethodGet, "/api/v1/analysis", &out)
	return out, err
}

// Analysis fetches one analysis.
func (c *Client) Analysis(ctx context.Context, id string) (*models.Analysis, error) {
	var out models.Analysis
	req := c.http.R().SetContext(ctx).SetPathParam("id", id)
	if err := c.do(req, http.MethodGet, "/api/v1/analysis/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the polling view of one analysis.
func (c *Client) Status(ctx context.Context, id string) (*models.AnalysisStatus, error) {
	var out models.AnalysisStatus
	req := c.http.R().SetContext(ctx).SetPathParam("id", id)
	if err := c.do(req, http.MethodGet, "/api/v1/analysis/{id}/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait polls Status every interval until the analysis finishes or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*models.AnalysisStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ask sends a question about a finished analysis.
func (c *Client) Ask(ctx context.Context, id, question string) (*Answer, error) {
	var out Answer
	req := c.http.R().SetContext(ctx).SetPathParam("id", id).SetBody(models.AskInput{Question: question})
	if err := c.do(req, http.MethodPost, "/api/v1/analysis/{id}/ask", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export writes the PDF report of a completed analysis to w.
func (c *Client) Export(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Accept", "application/pdf, application/json").
		Get("/api/v1/analysis/{id}/export")
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return 0, apiError(resp)
	}
	n, err := w.Write(resp.Body())
	return int64(n), err
}

// Stats fetches record counts and disk usage.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(c.http.R().SetContext(ctx), http.MethodGet, "/api/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return apiError(resp)
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode(), Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	var env envelope
	msg := strings.TrimSpace(string(resp.Body()))
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}

func page(offset, limit int) map[string]string {
	q := map[string]string{}
	if offset > 0 {
		q["offset"] = strconv.Itoa(offset)
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	return q
}
