// Package config provides configuration loading and structs for the datalens server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug" env:"DATALENS_DEBUG"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Uploads UploadConfig  `yaml:"uploads"`
	Gateway GatewayConfig `yaml:"gateway"`
	Auth    AuthConfig    `yaml:"auth"`
	Locker  LockerConfig  `yaml:"locker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"DATALENS_HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"DATALENS_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"DATALENS_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds the database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" env:"DATALENS_DATABASE_PATH"`
}

// UploadConfig controls where uploaded spreadsheets are kept and how large they may be.
type UploadConfig struct {
	Directory   string   `yaml:"directory" env:"DATALENS_UPLOAD_DIR"`
	MaxFileSize int64    `yaml:"max_file_size" env:"MAX_FILE_SIZE"`
	Extensions  []string `yaml:"extensions"`
	SampleRows  int      `yaml:"sample_rows"`
}

// GatewayConfig describes the remote analysis service.
type GatewayConfig struct {
	BaseURL         string        `yaml:"base_url" env:"EXTERNAL_API_BASE_URL"`
	UploadPath      string        `yaml:"upload_path"`
	GeneratePath    string        `yaml:"generate_path"`
	ChatPath        string        `yaml:"chat_path"`
	UploadTimeout   time.Duration `yaml:"upload_timeout" env:"DATALENS_UPLOAD_TIMEOUT"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" env:"DATALENS_GENERATE_TIMEOUT"`
	ChatTimeout     time.Duration `yaml:"chat_timeout" env:"DATALENS_CHAT_TIMEOUT"`
	UserAgent       string        `yaml:"user_agent"`
}

// AuthConfig controls bearer token verification. With no secret the owner is
// read from OwnerHeader, falling back to DefaultOwner.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" env:"DATALENS_JWT_SECRET"`
	Issuer       string `yaml:"issuer" env:"DATALENS_JWT_ISSUER"`
	OwnerHeader  string `yaml:"owner_header"`
	DefaultOwner string `yaml:"default_owner"`
}

// LockerConfig selects how concurrent questions on one analysis are serialized.
// An empty RedisURL keeps locking in-process.
type LockerConfig struct {
	RedisURL  string        `yaml:"redis_url" env:"DATALENS_REDIS_URL"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// Load reads and parses the config file at path, applies environment
// overrides, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Uploads.Directory = expandPath(cfg.Uploads.Directory, configDir)

	return &cfg, nil
}

// FromEnv builds a config from defaults and environment variables only.
// Used when no config file exists.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, cwd)
	cfg.Uploads.Directory = expandPath(cfg.Uploads.Directory, cwd)
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse env config: %w", err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q is not an absolute URL", c.Gateway.BaseURL))
	}
	if c.Uploads.MaxFileSize <= 0 {
		errs = append(errs, errors.New("uploads.max_file_size must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"gateway.upload_timeout":   c.Gateway.UploadTimeout,
		"gateway.generate_timeout": c.Gateway.GenerateTimeout,
		"gateway.chat_timeout":     c.Gateway.ChatTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
