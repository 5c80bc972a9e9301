// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Nested documents (configs,
// insights, conversations, raw payloads) live in JSON text columns.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS data_sources (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		db_config TEXT,
		file_config TEXT,
		metadata TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_data_sources_owner ON data_sources(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		data_source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		key_insights TEXT NOT NULL DEFAULT '[]',
		visualizations TEXT NOT NULL DEFAULT '[]',
		conversations TEXT NOT NULL DEFAULT '[]',
		raw_upload_data TEXT,
		raw_3d_data TEXT,
		schema_graph TEXT,
		schema_image_url TEXT NOT NULL DEFAULT '',
		processing_time INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (data_source_id) REFERENCES data_sources(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_owner ON analyses(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_data_source ON analyses(data_source_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDataSource inserts a data source. Timestamps are set here.
func (s *SQLiteStorage) CreateDataSource(ctx context.Context, ds *models.DataSource) error {
	dbConfig, err := marshalNullable(ds.DBConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal db config: %w", err)
	}
	fileConfig, err := marshalNullable(ds.FileConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal file config: %w", err)
	}
	metadata, err := marshalNullable(ds.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if ds.Status == "" {
		ds.Status = models.StatusPending
	}

	now := s.now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO data_sources (id, owner_id, name, kind, db_config, file_config, metadata, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.OwnerID, ds.Name, string(ds.Kind), dbConfig, fileConfig, metadata, string(ds.Status), ds.CreatedAt, ds.UpdatedAt,
	)
	return err
}

const dataSourceColumns = `id, owner_id, name, kind, db_config, file_config, metadata, status, created_at, updated_at`

// GetDataSource returns a data source by ID.
func (s *SQLiteStorage) GetDataSource(ctx context.Context, id string) (*models.DataSource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = ?`, id)
	ds, err := scanDataSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("data source", id)
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// ListDataSources returns the owner's data sources, newest first.
func (s *SQLiteStorage) ListDataSources(ctx context.Context, ownerID string, offset, limit int) ([]*models.DataSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dataSourceColumns+` FROM data_sources
		 WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.DataSource{}
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ds)
	}
	return list, rows.Err()
}

// UpdateDataSourceStatus moves a data source to status.
func (s *SQLiteStorage) UpdateDataSourceStatus(ctx context.Context, id string, status models.Status) error {
	from := predecessors(status)
	result, err := s.db.ExecContext(ctx,
		`UPDATE data_sources SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		append([]any{string(status), s.now(), id}, statusArgs(from)...)...,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, result, "data_sources", "data source", id, status)
}

// CreateAnalysis inserts an analysis. Timestamps are set here.
func (s *SQLiteStorage) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	if a.KeyInsights == nil {
		a.KeyInsights = []string{}
	}
	if a.Visualizations == nil {
		a.Visualizations = []models.Visualization{}
	}
	if a.Conversations == nil {
		a.Conversations = []models.ConversationTurn{}
	}
	insights, err := json.Marshal(a.KeyInsights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	visualizations, err := json.Marshal(a.Visualizations)
	if err != nil {
		return fmt.Errorf("failed to marshal visualizations: %w", err)
	}
	conversations, err := json.Marshal(a.Conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}

	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, owner_id, data_source_id, status, summary, key_insights, visualizations, conversations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.DataSourceID, string(a.Status), a.Summary,
		string(insights), string(visualizations), string(conversations), a.CreatedAt, a.UpdatedAt,
	)
	return err
}

const analysisColumns = `id, owner_id, data_source_id, status, summary, key_insights, visualizations, conversations,
	raw_upload_data, raw_3d_data, schema_graph, schema_image_url, processing_time, error_message, created_at, updated_at`

// GetAnalysis returns an analysis by ID.
func (s *SQLiteStorage) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("analysis", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnalyses returns the owner's analyses, newest first.
func (s *SQLiteStorage) ListAnalyses(ctx context.Context, ownerID string, offset, limit int) ([]*models.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// MarkAnalysisProcessing moves a pending analysis to processing.
func (s *SQLiteStorage) MarkAnalysisProcessing(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusProcessing), s.now(), id, string(models.StatusPending),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, result, "analyses", "analysis", id, models.StatusProcessing)
}

// CompleteAnalysis writes the result of a successful run and marks the
// analysis completed. Conversations are left untouched.
func (s *SQLiteStorage) CompleteAnalysis(ctx context.Context, id string, res *models.AnalysisResult) error {
	insights := res.KeyInsights
	if insights == nil {
		insights = []string{}
	}
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	visualizations := res.Visualizations
	if visualizations == nil {
		visualizations = []models.Visualization{}
	}
	visualizationsJSON, err := json.Marshal(visualizations)
	if err != nil {
		return fmt.Errorf("failed to marshal visualizations: %w", err)
	}
	schemaJSON, err := json.Marshal(res.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema graph: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, summary = ?, key_insights = ?, visualizations = ?,
		        raw_upload_data = ?, raw_3d_data = ?, schema_graph = ?, schema_image_url = ?,
		        processing_time = ?, error_message = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.StatusCompleted), res.Summary, string(insightsJSON), string(visualizationsJSON),
		rawColumn(res.RawUploadData), rawColumn(res.Raw3DData), string(schemaJSON), res.SchemaImageURL,
		res.ProcessingTime, s.now(), id, string(models.StatusProcessing),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, result, "analyses", "analysis", id, models.StatusCompleted)
}

// FailAnalysis marks a processing analysis failed with message. No other
// result column is written.
func (s *SQLiteStorage) FailAnalysis(ctx context.Context, id string, message string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusFailed), message, s.now(), id, string(models.StatusProcessing),
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, result, "analyses", "analysis", id, models.StatusFailed)
}

// AppendConversationTurn pushes turn onto the conversations array in a single
// statement, so concurrent appends never overwrite each other.
func (s *SQLiteStorage) AppendConversationTurn(ctx context.Context, analysisID string, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation turn: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET conversations = json_insert(conversations, '$[#]', json(?)), updated_at = ?
		 WHERE id = ?`,
		string(data), s.now(), analysisID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperrors.NewNotFoundError("analysis", analysisID)
	}
	return nil
}

// CountDataSources returns the total number of data sources.
func (s *SQLiteStorage) CountDataSources(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_sources`).Scan(&count)
	return count, err
}

// CountAnalysesByStatus returns the number of analyses in each status.
func (s *SQLiteStorage) CountAnalysesByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analyses GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// checkTransition turns a zero-row status update into a not-found or an
// invalid-transition error.
func (s *SQLiteStorage) checkTransition(ctx context.Context, result sql.Result, table, resource, id string, to models.Status) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(resource, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %s -> %s: %w", resource, id, current, to, apperrors.ErrInvalidTransition)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataSource(row scanner) (*models.DataSource, error) {
	var ds models.DataSource
	var kind, status string
	var dbConfig, fileConfig, metadata sql.NullString
	if err := row.Scan(&ds.ID, &ds.OwnerID, &ds.Name, &kind, &dbConfig, &fileConfig, &metadata, &status, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	ds.Kind = models.Kind(kind)
	ds.Status = models.Status(status)
	if dbConfig.Valid {
		ds.DBConfig = &models.DBConfig{}
		if err := json.Unmarshal([]byte(dbConfig.String), ds.DBConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal db config: %w", err)
		}
	}
	if fileConfig.Valid {
		ds.FileConfig = &models.FileConfig{}
		if err := json.Unmarshal([]byte(fileConfig.String), ds.FileConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file config: %w", err)
		}
	}
	if metadata.Valid {
		ds.Metadata = &models.SourceMetadata{}
		if err := json.Unmarshal([]byte(metadata.String), ds.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &ds, nil
}

func scanAnalysis(row scanner) (*models.Analysis, error) {
	var a models.Analysis
	var status, insights, visualizations, conversations string
	var rawUpload, raw3D, schema sql.NullString
	if err := row.Scan(&a.ID, &a.OwnerID, &a.DataSourceID, &status, &a.Summary, &insights, &visualizations, &conversations,
		&rawUpload, &raw3D, &schema, &a.SchemaImageURL, &a.ProcessingTime, &a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.Status(status)
	if err := json.Unmarshal([]byte(insights), &a.KeyInsights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
	}
	if err := json.Unmarshal([]byte(visualizations), &a.Visualizations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visualizations: %w", err)
	}
	if err := json.Unmarshal([]byte(conversations), &a.Conversations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
	}
	if rawUpload.Valid {
		a.RawUploadData = json.RawMessage(rawUpload.String)
	}
	if raw3D.Valid {
		a.Raw3DData = json.RawMessage(raw3D.String)
	}
	if schema.Valid {
		a.Schema = &models.SchemaGraph{}
		if err := json.Unmarshal([]byte(schema.String), a.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema graph: %w", err)
		}
	}
	return &a, nil
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func rawColumn(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// predecessors lists the statuses from which to may be reached.
func predecessors(to models.Status) []models.Status {
	var from []models.Status
	for _, s := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		if s.CanTransitionTo(to) {
			from = append(from, s)
		}
	}
	return from
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []models.Status) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}
