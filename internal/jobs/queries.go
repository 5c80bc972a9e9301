package jobs

import (
	"context"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/models"
)

const maxListLimit = 500

// Get returns the owner's analysis with its data source attached. Analyses
// owned by someone else are reported as not found.
func (m *Machine) Get(ctx context.Context, ownerID, analysisID string) (*models.Analysis, error) {
	a, err := m.storage.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, apperrors.NewNotFoundError("analysis", analysisID)
	}
	ds, err := m.storage.GetDataSource(ctx, a.DataSourceID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	a.DataSource = ds.Redacted()
	return a, nil
}

// List returns the owner's analyses, newest first, each with its data source.
func (m *Machine) List(ctx context.Context, ownerID string, offset, limit int) ([]*models.Analysis, error) {
	list, err := m.storage.ListAnalyses(ctx, ownerID, offset, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	sources := make(map[string]*models.DataSource)
	for _, a := range list {
		ds, ok := sources[a.DataSourceID]
		if !ok {
			ds, err = m.storage.GetDataSource(ctx, a.DataSourceID)
			if err != nil && !apperrors.IsNotFound(err) {
				return nil, err
			}
			ds = ds.Redacted()
			sources[a.DataSourceID] = ds
		}
		a.DataSource = ds
	}
	return list, nil
}

// Status returns the polling view of the owner's analysis.
func (m *Machine) Status(ctx context.Context, ownerID, analysisID string) (*models.AnalysisStatus, error) {
	a, err := m.storage.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, apperrors.NewNotFoundError("analysis", analysisID)
	}
	return &models.AnalysisStatus{
		Status:         a.Status,
		ProcessingTime: a.ProcessingTime,
		ErrorMessage:   a.ErrorMessage,
	}, nil
}

// ListDataSources returns the owner's data sources with passwords masked.
func (m *Machine) ListDataSources(ctx context.Context, ownerID string, offset, limit int) ([]*models.DataSource, error) {
	list, err := m.storage.ListDataSources(ctx, ownerID, offset, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for i, ds := range list {
		list[i] = ds.Redacted()
	}
	return list, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
