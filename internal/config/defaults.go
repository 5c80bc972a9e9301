package config

import "time"

// DefaultBaseURL is the hosted analysis service used when none is configured.
const DefaultBaseURL = "https://db-agent-api-service-698063521469.asia-south1.run.app"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 3 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/datalens.db"
	}
	if cfg.Uploads.Directory == "" {
		cfg.Uploads.Directory = "./data/uploads"
	}
	if cfg.Uploads.MaxFileSize == 0 {
		cfg.Uploads.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Uploads.Extensions == nil {
		cfg.Uploads.Extensions = []string{".csv", ".xlsx"}
	}
	if cfg.Uploads.SampleRows == 0 {
		cfg.Uploads.SampleRows = 5
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = DefaultBaseURL
	}
	if cfg.Gateway.UploadPath == "" {
		cfg.Gateway.UploadPath = "/upload_db"
	}
	if cfg.Gateway.GeneratePath == "" {
		cfg.Gateway.GeneratePath = "/3d_generate"
	}
	if cfg.Gateway.ChatPath == "" {
		cfg.Gateway.ChatPath = "/chat"
	}
	if cfg.Gateway.UploadTimeout == 0 {
		cfg.Gateway.UploadTimeout = 120 * time.Second
	}
	if cfg.Gateway.GenerateTimeout == 0 {
		cfg.Gateway.GenerateTimeout = 120 * time.Second
	}
	if cfg.Gateway.ChatTimeout == 0 {
		cfg.Gateway.ChatTimeout = 60 * time.Second
	}
	if cfg.Gateway.UserAgent == "" {
		cfg.Gateway.UserAgent = "datalens/1.0"
	}
	if cfg.Auth.OwnerHeader == "" {
		cfg.Auth.OwnerHeader = "X-User-ID"
	}
	if cfg.Auth.DefaultOwner == "" {
		cfg.Auth.DefaultOwner = "local"
	}
	if cfg.Locker.LockTTL == 0 {
		cfg.Locker.LockTTL = 3 * time.Minute
	}
	if cfg.Locker.KeyPrefix == "" {
		cfg.Locker.KeyPrefix = "datalens:ask:"
	}
}
