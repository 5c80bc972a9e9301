package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/fileid"
	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/internal/report"
	"github.com/hyperjump/datalens/internal/storage"
)

// multipartOverhead is the allowance for form boundaries and headers on top
// of the file size limit.
const multipartOverhead = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type submitResponse struct {
	DataSourceID string        `json:"dataSourceId"`
	AnalysisID   string        `json:"analysisId"`
	Status       models.Status `json:"status"`
}

type askResponse struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	IsMarkdown bool      `json:"isMarkdown"`
	Timestamp  time.Time `json:"timestamp"`
}

type statsResponse struct {
	DataSources int64                   `json:"dataSources"`
	Analyses    map[models.Status]int64 `json:"analyses"`
	Disk        storage.Usage           `json:"disk"`
	DiskTotal   int64                   `json:"diskUsageBytes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitDatabase(w http.ResponseWriter, r *http.Request) {
	var input models.DatabaseInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondErr(w, r, err)
		return
	}
	owner := OwnerFromContext(r.Context())
	s.logger.Debug("database submission", zap.String("owner", owner), zap.String("name", input.Name))

	a, err := s.machine.Submit(r.Context(), input.DataSource(owner))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, submitResponse{
		DataSourceID: a.DataSourceID,
		AnalysisID:   a.ID,
		Status:       a.Status,
	})
}

func (s *Server) handleSubmitFile(w http.ResponseWriter, r *http.Request) {
	maxSize := s.config.Uploads.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondErr(w, r, apperrors.NewValidationError("file", fmt.Sprintf("exceeds the %d byte limit", maxSize)))
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondErr(w, r, apperrors.NewValidationError("file", "is required"))
		return
	}
	defer file.Close()

	if !s.extensionAllowed(header.Filename) {
		s.respondErr(w, r, apperrors.NewValidationError("file", "only CSV and XLSX files are allowed"))
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		s.respondErr(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}
	if int64(len(content)) > maxSize {
		s.respondErr(w, r, apperrors.NewValidationError("file", fmt.Sprintf("exceeds the %d byte limit", maxSize)))
		return
	}
	result, err := s.inspector.Inspect(header.Filename, content)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	uploaded := s.now().UTC()
	path, err := s.saveUpload(header.Filename, content, uploaded)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = filepath.Base(header.Filename)
	}
	meta := result.Metadata
	ds := &models.DataSource{
		OwnerID: OwnerFromContext(r.Context()),
		Name:    name,
		Kind:    models.KindFile,
		FileConfig: &models.FileConfig{
			FileName:   filepath.Base(header.Filename),
			FileType:   result.FileType,
			FilePath:   path,
			FileSize:   int64(len(content)),
			UploadDate: uploaded,
		},
		Metadata: &meta,
	}
	s.logger.Debug("file submission",
		zap.String("owner", ds.OwnerID),
		zap.String("file", ds.FileConfig.FileName),
		zap.String("mime", result.MIME),
		zap.Int("rows", meta.RowCount))

	a, err := s.machine.Submit(r.Context(), ds)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove rejected upload", zap.String("path", path), zap.Error(rmErr))
		}
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, submitResponse{
		DataSourceID: a.DataSourceID,
		AnalysisID:   a.ID,
		Status:       a.Status,
	})
}

func (s *Server) extensionAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext != "" && slices.Contains(s.config.Uploads.Extensions, ext)
}

func (s *Server) saveUpload(originalName string, content []byte, uploaded time.Time) (string, error) {
	dir := s.config.Uploads.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(dir, fileid.StoredName(originalName, content, uploaded))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

func (s *Server) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pagination(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	list, err := s.machine.ListDataSources(r.Context(), OwnerFromContext(r.Context()), offset, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.DataSource{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pagination(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	list, err := s.machine.List(r.Context(), OwnerFromContext(r.Context()), offset, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Analysis{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.machine.Get(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.machine.Status(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var input models.AskInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	turn, err := s.machine.Ask(r.Context(), OwnerFromContext(r.Context()), id, input.Question)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, askResponse{
		Question:   turn.Question,
		Answer:     turn.Answer,
		ImageURL:   turn.ImageURL,
		IsMarkdown: true,
		Timestamp:  turn.Timestamp,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	a, err := s.machine.Get(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if a.Status != models.StatusCompleted {
		s.respondErr(w, r, apperrors.NewValidationError("status", "analysis is not completed"))
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, a, s.now()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(a.ID)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := s.storage.CountDataSources(ctx)
	if err != nil {
		s.logger.Error("stats: count data sources failed", zap.Error(err))
		s.respondErr(w, r, err)
		return
	}
	analyses, err := s.storage.CountAnalysesByStatus(ctx)
	if err != nil {
		s.logger.Error("stats: count analyses failed", zap.Error(err))
		s.respondErr(w, r, err)
		return
	}
	resp := statsResponse{DataSources: sources, Analyses: analyses}
	usage, err := storage.MeasureUsage(s.config.Storage.DatabasePath, s.config.Uploads.Directory)
	if err != nil {
		s.logger.Warn("stats: disk usage failed", zap.Error(err))
	} else {
		resp.Disk = usage
		resp.DiskTotal = usage.Total()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func pagination(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, apperrors.NewValidationError("offset", "must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, apperrors.NewValidationError("limit", "must be a non-negative integer")
		}
	}
	return offset, limit, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

// respondErr maps err onto a status code: validation 400, not found 404,
// remote service failures 502, anything else 500.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperrors.IsValidation(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		if gw, ok := apperrors.AsGateway(err); ok {
			s.logger.Warn("analysis service call failed",
				zap.String("path", r.URL.Path),
				zap.String("op", gw.Op),
				zap.String("kind", string(gw.Kind)),
				zap.Error(err))
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
