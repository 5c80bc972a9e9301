// Package jobs runs the analysis lifecycle: submission, the single background
// run per submission, and chat questions against a finished analysis.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/gateway"
	"github.com/hyperjump/datalens/internal/locker"
	"github.com/hyperjump/datalens/internal/metrics"
	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/internal/normalize"
	"github.com/hyperjump/datalens/internal/storage"
)

// Gateway is the subset of the analysis service client the machine needs.
type Gateway interface {
	SubmitForAnalysis(ctx context.Context, ds *models.DataSource) (*gateway.RawAnalysisResult, error)
	Ask(ctx context.Context, history []gateway.ChatMessage, ds *models.DataSource) (*gateway.RawChatResult, error)
}

// Machine owns every status change of data sources and analyses.
type Machine struct {
	storage storage.Storage
	gateway Gateway
	locker  locker.Locker
	logger  *zap.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithLocker replaces the default in-process locker used to serialize
// questions on one analysis.
func WithLocker(l locker.Locker) Option {
	return func(m *Machine) { m.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a machine over store and gw.
func NewMachine(store storage.Storage, gw Gateway, opts ...Option) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		storage: store,
		gateway: gw,
		locker:  locker.NewLocal(),
		logger:  zap.NewNop(),
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit stores ds and a new analysis for it, marks both processing, and
// starts the run in the background. The returned analysis carries both ids.
// Invalid input is rejected before anything is written.
func (m *Machine) Submit(ctx context.Context, ds *models.DataSource) (*models.Analysis, error) {
	if ds == nil {
		return nil, apperrors.NewValidationError("dataSource", "is required")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.Status = models.StatusPending
	if err := m.storage.CreateDataSource(ctx, ds); err != nil {
		return nil, fmt.Errorf("failed to store data source: %w", err)
	}

	a := &models.Analysis{
		ID:           uuid.New().String(),
		OwnerID:      ds.OwnerID,
		DataSourceID: ds.ID,
		Status:       models.StatusPending,
	}
	if err := m.storage.CreateAnalysis(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	if err := m.storage.UpdateDataSourceStatus(ctx, ds.ID, models.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to mark data source processing: %w", err)
	}
	ds.Status = models.StatusProcessing
	if err := m.storage.MarkAnalysisProcessing(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("failed to mark analysis processing: %w", err)
	}
	a.Status = models.StatusProcessing
	a.DataSource = ds.Redacted()

	m.logger.Info("analysis submitted",
		zap.String("analysis_id", a.ID),
		zap.String("data_source_id", ds.ID),
		zap.String("kind", string(ds.Kind)))

	m.Start(ds.ID, a.ID)
	return a, nil
}

// Start runs the analysis in a goroutine detached from any request. It is
// a no-op after Shutdown.
func (m *Machine) Start(dataSourceID, analysisID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("machine shut down, run not started", zap.String("analysis_id", analysisID))
		return
	}
	m.running.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.running.Done()
		if err := m.Run(m.baseCtx, dataSourceID, analysisID); err != nil {
			m.logger.Error("analysis run failed",
				zap.String("analysis_id", analysisID),
				zap.Error(err))
		}
	}()
}

// Shutdown stops accepting runs and waits for in-flight ones. If ctx ends
// first, in-flight gateway calls are cancelled and ctx.Err is returned.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}

// Run performs the remote analysis for one submission and records the
// outcome. Missing records and already finished analyses are ignored.
// Gateway failures are recorded on both records and are not returned;
// only storage errors are.
func (m *Machine) Run(ctx context.Context, dataSourceID, analysisID string) error {
	ds, err := m.storage.GetDataSource(ctx, dataSourceID)
	if apperrors.IsNotFound(err) {
		m.logger.Debug("data source gone, skipping run", zap.String("data_source_id", dataSourceID))
		return nil
	}
	if err != nil {
		return err
	}
	a, err := m.storage.GetAnalysis(ctx, analysisID)
	if apperrors.IsNotFound(err) {
		m.logger.Debug("analysis gone, skipping run", zap.String("analysis_id", analysisID))
		return nil
	}
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		m.logger.Debug("analysis already finished", zap.String("analysis_id", a.ID), zap.String("status", string(a.Status)))
		return nil
	}
	if a.Status == models.StatusPending {
		if err := m.storage.MarkAnalysisProcessing(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to mark analysis processing: %w", err)
		}
	}
	if ds.Status == models.StatusPending {
		if err := m.storage.UpdateDataSourceStatus(ctx, ds.ID, models.StatusProcessing); err != nil {
			return fmt.Errorf("failed to mark data source processing: %w", err)
		}
	}

	metrics.AnalysesActive.Inc()
	defer metrics.AnalysesActive.Dec()

	raw, err := m.gateway.SubmitForAnalysis(ctx, ds)
	// Outcomes are written even if the run context was cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		return m.fail(writeCtx, ds, a, err)
	}
	return m.complete(writeCtx, ds, a, raw)
}

func (m *Machine) complete(ctx context.Context, ds *models.DataSource, a *models.Analysis, raw *gateway.RawAnalysisResult) error {
	schema := normalize.Schema(raw.Generate3D)
	if len(schema.Nodes) == 0 {
		m.logger.Warn("no schema graph in 3D response", zap.String("analysis_id", a.ID))
	}
	elapsed := m.elapsed(a.CreatedAt)
	res := &models.AnalysisResult{
		Summary:        normalize.Summary(raw.Upload),
		KeyInsights:    normalize.Insights(raw.Upload),
		Visualizations: []models.Visualization{},
		RawUploadData:  raw.Upload,
		Raw3DData:      raw.Generate3D,
		Schema:         schema,
		SchemaImageURL: normalize.SchemaImage(raw.Generate3D),
		ProcessingTime: elapsed.Milliseconds(),
	}
	if err := m.storage.CompleteAnalysis(ctx, a.ID, res); err != nil {
		return fmt.Errorf("failed to store analysis result: %w", err)
	}
	m.finishDataSource(ctx, ds, models.StatusCompleted)

	metrics.AnalysesFinished.WithLabelValues(string(models.StatusCompleted), string(ds.Kind)).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(models.StatusCompleted)).Observe(elapsed.Seconds())
	m.logger.Info("analysis completed",
		zap.String("analysis_id", a.ID),
		zap.Int("nodes", len(schema.Nodes)),
		zap.Int("links", len(schema.Links)),
		zap.Int64("processing_ms", res.ProcessingTime))
	return nil
}

func (m *Machine) fail(ctx context.Context, ds *models.DataSource, a *models.Analysis, cause error) error {
	if err := m.storage.FailAnalysis(ctx, a.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to record analysis failure: %w", err)
	}
	m.finishDataSource(ctx, ds, models.StatusFailed)

	metrics.AnalysesFinished.WithLabelValues(string(models.StatusFailed), string(ds.Kind)).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(models.StatusFailed)).Observe(m.elapsed(a.CreatedAt).Seconds())
	m.logger.Warn("analysis failed",
		zap.String("analysis_id", a.ID),
		zap.Error(cause))
	return nil
}

// finishDataSource moves the data source to a terminal status. A data source
// that is already terminal is left as is.
func (m *Machine) finishDataSource(ctx context.Context, ds *models.DataSource, status models.Status) {
	err := m.storage.UpdateDataSourceStatus(ctx, ds.ID, status)
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		m.logger.Debug("data source status unchanged", zap.String("data_source_id", ds.ID), zap.Error(err))
		return
	}
	if err != nil {
		m.logger.Error("failed to update data source status", zap.String("data_source_id", ds.ID), zap.Error(err))
	}
}

func (m *Machine) elapsed(since time.Time) time.Duration {
	d := m.now().Sub(since)
	if d < 0 {
		return 0
	}
	return d
}
