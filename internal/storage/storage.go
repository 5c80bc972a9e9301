// Package storage defines the persistence interface for data sources and analyses.
package storage

import (
	"context"

	"github.com/hyperjump/datalens/internal/models"
)

// Storage defines data source and analysis persistence operations.
// Status writes are guarded: a write that would break the order
// pending -> processing -> {completed, failed} fails with
// apperrors.ErrInvalidTransition.
type Storage interface {
	// Data source operations
	CreateDataSource(ctx context.Context, ds *models.DataSource) error
	GetDataSource(ctx context.Context, id string) (*models.DataSource, error)
	ListDataSources(ctx context.Context, ownerID string, offset, limit int) ([]*models.DataSource, error)
	UpdateDataSourceStatus(ctx context.Context, id string, status models.Status) error

	// Analysis operations
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, ownerID string, offset, limit int) ([]*models.Analysis, error)
	MarkAnalysisProcessing(ctx context.Context, id string) error
	CompleteAnalysis(ctx context.Context, id string, res *models.AnalysisResult) error
	FailAnalysis(ctx context.Context, id string, message string) error

	// AppendConversationTurn adds turn to the end of the analysis'
	// conversation without rewriting any other column.
	AppendConversationTurn(ctx context.Context, analysisID string, turn models.ConversationTurn) error

	// Stats
	CountDataSources(ctx context.Context) (int64, error)
	CountAnalysesByStatus(ctx context.Context) (map[models.Status]int64, error)

	Close() error
}
