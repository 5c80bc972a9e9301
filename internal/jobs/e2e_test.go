package jobs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/datalens/internal/config"
	"github.com/hyperjump/datalens/internal/gateway"
	"github.com/hyperjump/datalens/internal/models"
)

func TestEndToEnd_fileSubmission(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/upload_db":
			_, _ = io.WriteString(w, `{"message":"File uploaded","key_insights":["3 columns"]}`)
		case "/3d_generate":
			_, _ = io.WriteString(w, `{"nodes":[{"id":"table_users"}],"edges":[{"source":"table_users","target":"table_orders","label":"1:N"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := &config.Config{Gateway: config.GatewayConfig{BaseURL: srv.URL}}
	config.ApplyDefaults(cfg)
	m := NewMachine(newStore(t), gateway.New(cfg.Gateway))
	ctx := context.Background()

	ds := &models.DataSource{
		OwnerID: "alice",
		Name:    "users.csv",
		Kind:    models.KindFile,
		FileConfig: &models.FileConfig{
			FileName: "users.csv",
			FileType: models.FileTypeCSV,
			FilePath: "/srv/uploads/users.csv",
			FileSize: 120,
		},
	}
	a, err := m.Submit(ctx, ds)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	got := mustGet(t, m, "alice", a.ID)
	require.Equal(t, models.StatusCompleted, got.Status, got.ErrorMessage)
	assert.Equal(t, "File uploaded", got.Summary)
	assert.Equal(t, []string{"3 columns"}, got.KeyInsights)
	require.NotNil(t, got.Schema)
	require.Len(t, got.Schema.Nodes, 1)
	assert.Equal(t, "users", got.Schema.Nodes[0].Name)
	require.Len(t, got.Schema.Links, 1)
	assert.Equal(t, "1:N", got.Schema.Links[0].Relationship)
	assert.Equal(t, models.StatusCompleted, got.DataSource.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/upload_db", "/3d_generate"}, paths)
}
