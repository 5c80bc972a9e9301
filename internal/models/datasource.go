// Package models defines the data sources, analyses and schema graphs persisted by datalens.
package models

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/datalens/internal/apperrors"
)

// Kind identifies how a data source is reached.
type Kind string

const (
	KindDatabase Kind = "database"
	KindFile     Kind = "file"
)

// Database types recognised in connection strings.
const (
	DBTypeMySQL      = "mysql"
	DBTypePostgreSQL = "postgresql"
	DBTypeMongoDB    = "mongodb"
	DBTypeUnknown    = "unknown"
)

// File types accepted for upload.
const (
	FileTypeCSV  = "csv"
	FileTypeXLSX = "xlsx"
)

// DataSource is a user-registered origin of tabular data.
type DataSource struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	Name       string          `json:"name"`
	Kind       Kind            `json:"type"`
	DBConfig   *DBConfig       `json:"dbConfig,omitempty"`
	FileConfig *FileConfig     `json:"fileConfig,omitempty"`
	Metadata   *SourceMetadata `json:"metadata,omitempty"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// DBConfig holds the connection target of a database source.
type DBConfig struct {
	ConnectionString string `json:"connectionString"`
	DBType           string `json:"dbType"`
}

// FileConfig describes an uploaded spreadsheet.
type FileConfig struct {
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	FilePath   string    `json:"filePath"`
	FileSize   int64     `json:"fileSize"`
	UploadDate time.Time `json:"uploadDate"`
}

// SourceMetadata is what we learned about an uploaded file before sending it upstream.
type SourceMetadata struct {
	RowCount    int                 `json:"rowCount"`
	ColumnCount int                 `json:"columnCount"`
	Columns     []string            `json:"columns"`
	SampleData  []map[string]string `json:"sampleData,omitempty"`
}

// Validate checks that the kind-specific config is present and that the
// other kind's config is absent.
func (d *DataSource) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	if d.OwnerID == "" {
		return apperrors.NewValidationError("owner", "is required")
	}
	switch d.Kind {
	case KindDatabase:
		if d.FileConfig != nil {
			return apperrors.NewValidationError("fileConfig", "must be empty for a database source")
		}
		if d.DBConfig == nil || strings.TrimSpace(d.DBConfig.ConnectionString) == "" {
			return apperrors.NewValidationError("connectionString", "is required")
		}
	case KindFile:
		if d.DBConfig != nil {
			return apperrors.NewValidationError("dbConfig", "must be empty for a file source")
		}
		if d.FileConfig == nil || d.FileConfig.FilePath == "" {
			return apperrors.NewValidationError("filePath", "is required")
		}
		if d.FileConfig.FileType != FileTypeCSV && d.FileConfig.FileType != FileTypeXLSX {
			return apperrors.NewValidationError("fileType", "only csv and xlsx files are allowed")
		}
	default:
		return apperrors.NewValidationError("type", "must be database or file")
	}
	return nil
}

// SourceIdentifier returns the value sent to the remote service: the
// connection string for databases, the stored path for files.
func (d *DataSource) SourceIdentifier() string {
	switch d.Kind {
	case KindDatabase:
		if d.DBConfig != nil {
			return d.DBConfig.ConnectionString
		}
	case KindFile:
		if d.FileConfig != nil {
			return d.FileConfig.FilePath
		}
	}
	return ""
}

// Redacted returns a copy safe to hand to clients: connection-string
// passwords are masked.
func (d *DataSource) Redacted() *DataSource {
	if d == nil {
		return nil
	}
	cp := *d
	if d.DBConfig != nil {
		cfg := *d.DBConfig
		cfg.ConnectionString = RedactConnectionString(cfg.ConnectionString)
		cp.DBConfig = &cfg
	}
	return &cp
}

const redactedPassword = "xxxxx"

var passwordPair = regexp.MustCompile(`(?i)(\b(?:password|pwd)\s*=\s*)('[^']*'|"[^"]*"|[^;\s]*)`)

// RedactConnectionString masks the password of a connection string. URL
// forms, key/value forms (password=...) and Go MySQL DSNs (user:pass@tcp(...))
// are recognised; anything else is returned unchanged.
func RedactConnectionString(conn string) string {
	if strings.Contains(conn, "://") {
		u, err := url.Parse(conn)
		if err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				return u.Redacted()
			}
		}
	}
	if passwordPair.MatchString(conn) {
		return passwordPair.ReplaceAllString(conn, "${1}"+redactedPassword)
	}
	return redactDSN(conn)
}

// redactDSN masks the password in user:pass@... where the credentials
// end at the last '@'.
func redactDSN(conn string) string {
	at := strings.LastIndex(conn, "@")
	if at < 0 || strings.Contains(conn, "://") {
		return conn
	}
	creds := conn[:at]
	if strings.ContainsAny(creds, " =;/") {
		return conn
	}
	user, _, ok := strings.Cut(creds, ":")
	if !ok {
		return conn
	}
	return user + ":" + redactedPassword + conn[at:]
}

// DetectDBType infers the database type from a connection string scheme.
func DetectDBType(conn string) string {
	lower := strings.ToLower(strings.TrimSpace(conn))
	switch {
	case strings.HasPrefix(lower, "mysql://"):
		return DBTypeMySQL
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DBTypePostgreSQL
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return DBTypeMongoDB
	}
	return DBTypeUnknown
}
