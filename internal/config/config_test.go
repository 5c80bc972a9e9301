package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
gateway:
  base_url: "http://analysis.internal"
  chat_timeout: 15s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Gateway.BaseURL != "http://analysis.internal" {
		t.Errorf("base_url = %s", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.ChatTimeout != 15*time.Second {
		t.Errorf("chat_timeout = %s, want 15s", cfg.Gateway.ChatTimeout)
	}
	if cfg.Gateway.UploadTimeout != 120*time.Second {
		t.Errorf("upload_timeout = %s, want default 2m0s", cfg.Gateway.UploadTimeout)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8080
gateway:
  base_url: "http://from-file"
uploads:
  max_file_size: 1024
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXTERNAL_API_BASE_URL", "http://from-env")
	t.Setenv("MAX_FILE_SIZE", "2048")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.BaseURL != "http://from-env" {
		t.Errorf("base_url = %s, want env value", cfg.Gateway.BaseURL)
	}
	if cfg.Uploads.MaxFileSize != 2048 {
		t.Errorf("max_file_size = %d, want 2048", cfg.Uploads.MaxFileSize)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, unset env must keep file value", cfg.Server.Port)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/datalens.db"
uploads:
  directory: "./data/uploads"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "datalens.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantUploads := filepath.Join(dir, "data", "uploads")
	if cfg.Uploads.Directory != wantUploads {
		t.Errorf("upload directory = %s, want %s", cfg.Uploads.Directory, wantUploads)
	}
}

func TestLoad_expandPathBareRelativeToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  database_path: \"datalens.db\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "datalens.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Gateway.BaseURL != DefaultBaseURL {
		t.Errorf("default base url: got %s", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.GenerateTimeout != 120*time.Second || cfg.Gateway.ChatTimeout != 60*time.Second {
		t.Errorf("timeouts: generate=%s chat=%s", cfg.Gateway.GenerateTimeout, cfg.Gateway.ChatTimeout)
	}
	if cfg.Uploads.MaxFileSize != 10*1024*1024 {
		t.Errorf("max file size: got %d", cfg.Uploads.MaxFileSize)
	}
	if len(cfg.Uploads.Extensions) != 2 || cfg.Uploads.Extensions[0] != ".csv" {
		t.Errorf("extensions: got %v", cfg.Uploads.Extensions)
	}
	if cfg.Auth.OwnerHeader != "X-User-ID" || cfg.Auth.DefaultOwner != "local" {
		t.Errorf("auth defaults: %+v", cfg.Auth)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Gateway.BaseURL = "not a url"
	cfg.Server.Port = 70000
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
		Gateway: GatewayConfig{ChatTimeout: 45 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Gateway.ChatTimeout != 45*time.Second {
		t.Errorf("loaded chat timeout: got %s", loaded.Gateway.ChatTimeout)
	}
}
