package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/config"
	"github.com/hyperjump/datalens/internal/models"
)

type recordedCall struct {
	Path string
	Body string
}

// fakeService records every call and answers from a per-path handler.
type fakeService struct {
	mu       sync.Mutex
	calls    []recordedCall
	handlers map[string]http.HandlerFunc
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Path: r.URL.Path, Body: string(body)})
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (f *fakeService) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := &config.Config{Gateway: config.GatewayConfig{BaseURL: baseURL}}
	config.ApplyDefaults(cfg)
	cfg.Gateway.UploadTimeout = 2 * time.Second
	cfg.Gateway.GenerateTimeout = 2 * time.Second
	cfg.Gateway.ChatTimeout = 2 * time.Second
	return New(cfg.Gateway)
}

func dbSource() *models.DataSource {
	return &models.DataSource{
		ID:       "ds-1",
		Kind:     models.KindDatabase,
		DBConfig: &models.DBConfig{ConnectionString: "postgres://u:p@db:5432/shop", DBType: models.DBTypePostgreSQL},
	}
}

func TestSubmitForAnalysis_order(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db":   jsonReply(200, `{"summary":"two tables", "insights":["a"]}`),
		"/3d_generate": jsonReply(200, `{"nodes":[{"id":"table_users"}]}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).SubmitForAnalysis(context.Background(), dbSource())
	require.NoError(t, err)

	assert.Equal(t, []string{"/upload_db", "/3d_generate"}, svc.paths())
	for _, c := range svc.calls {
		assert.JSONEq(t, `{"source":"postgres://u:p@db:5432/shop"}`, c.Body)
	}
	assert.JSONEq(t, `{"summary":"two tables", "insights":["a"]}`, string(res.Upload))
	assert.JSONEq(t, `{"nodes":[{"id":"table_users"}]}`, string(res.Generate3D))
}

func TestSubmitForAnalysis_fileSourceSendsPath(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db":   jsonReply(200, `{}`),
		"/3d_generate": jsonReply(200, `{}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	ds := &models.DataSource{Kind: models.KindFile, FileConfig: &models.FileConfig{FilePath: "/data/uploads/sales.csv", FileType: "csv"}}
	_, err := newTestClient(t, srv.URL).SubmitForAnalysis(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, svc.calls, 2)
	assert.JSONEq(t, `{"source":"/data/uploads/sales.csv"}`, svc.calls[0].Body)
}

func TestSubmitForAnalysis_bodiesPreserved(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
		"/3d_generate": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "generated ok")
		},
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).SubmitForAnalysis(context.Background(), dbSource())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(res.Upload))

	var s string
	require.NoError(t, json.Unmarshal(res.Generate3D, &s))
	assert.Equal(t, "generated ok", s)
}

func TestSubmitForAnalysis_statusError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"detail string", 422, `{"detail":"could not connect to source"}`, "could not connect to source"},
		{"structured detail", 422, `{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
		{"message field", 500, `{"message":"internal failure"}`, "internal failure"},
		{"plain text", 502, `bad gateway upstream`, "bad gateway upstream"},
		{"empty body", 503, ``, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{handlers: map[string]http.HandlerFunc{
				"/upload_db":   jsonReply(tt.status, tt.body),
				"/3d_generate": jsonReply(200, `{}`),
			}}
			srv := httptest.NewServer(svc)
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).SubmitForAnalysis(context.Background(), dbSource())
			require.Error(t, err)
			gerr, ok := apperrors.AsGateway(err)
			require.True(t, ok, "want GatewayError, got %T", err)
			assert.Equal(t, apperrors.GatewayStatus, gerr.Kind)
			assert.Equal(t, OpUpload, gerr.Op)
			assert.Equal(t, tt.status, gerr.StatusCode)
			assert.Equal(t, tt.wantDetail, gerr.Detail)
			assert.Equal(t, []string{"/upload_db"}, svc.paths(), "3D generation must not run after a failed upload")
		})
	}
}

func TestSubmitForAnalysis_generateError(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db":   jsonReply(200, `{}`),
		"/3d_generate": jsonReply(500, `{"detail":"render failed"}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).SubmitForAnalysis(context.Background(), dbSource())
	gerr, ok := apperrors.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, OpGenerate3D, gerr.Op)
	assert.Contains(t, err.Error(), "render failed")
}

func TestSubmitForAnalysis_networkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).SubmitForAnalysis(context.Background(), dbSource())
	gerr, ok := apperrors.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.GatewayNetwork, gerr.Kind)
	assert.Equal(t, 0, gerr.StatusCode)
	assert.NotEmpty(t, gerr.Detail)
}

func TestSubmitForAnalysis_timeout(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.UploadTimeout = 50 * time.Millisecond

	_, err := c.SubmitForAnalysis(context.Background(), dbSource())
	gerr, ok := apperrors.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.GatewayTimeout, gerr.Kind)
}

func TestSubmitForAnalysis_missingSource(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.SubmitForAnalysis(context.Background(), &models.DataSource{Kind: models.KindDatabase})
	assert.True(t, apperrors.IsValidation(err))
}

func TestAsk_uploadsBeforeChat(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db": jsonReply(200, `{"message":"uploaded"}`),
		"/chat":      jsonReply(200, `{"messages":[{"type":"ai","content":"42"}]}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	history := []ChatMessage{
		UserMessage("how many tables?"),
		AssistantMessage("two"),
		UserMessage("and rows?"),
	}
	res, err := newTestClient(t, srv.URL).Ask(context.Background(), history, dbSource())
	require.NoError(t, err)

	assert.Equal(t, []string{"/upload_db", "/chat"}, svc.paths())
	assert.JSONEq(t, `{"messages":[
		{"role":"user","type":"human","content":"how many tables?"},
		{"role":"assistant","type":"ai","content":"two"},
		{"role":"user","type":"human","content":"and rows?"}
	]}`, svc.calls[1].Body)
	assert.JSONEq(t, `{"messages":[{"type":"ai","content":"42"}]}`, string(res.Body))
}

func TestAsk_uploadFailureSkipsChat(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db": jsonReply(400, `{"detail":"source unreachable"}`),
		"/chat":      jsonReply(200, `{}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Ask(context.Background(), []ChatMessage{UserMessage("q")}, dbSource())
	gerr, ok := apperrors.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, OpUpload, gerr.Op)
	assert.Equal(t, []string{"/upload_db"}, svc.paths())
}

func TestAsk_chatError(t *testing.T) {
	svc := &fakeService{handlers: map[string]http.HandlerFunc{
		"/upload_db": jsonReply(200, `{}`),
		"/chat":      jsonReply(500, `{"detail":"model overloaded"}`),
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Ask(context.Background(), []ChatMessage{UserMessage("q")}, dbSource())
	gerr, ok := apperrors.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, OpChat, gerr.Op)
	assert.Equal(t, 500, gerr.StatusCode)
	assert.Equal(t, "model overloaded", gerr.Detail)
}
