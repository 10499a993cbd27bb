// Package server exposes the reimport and status HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/harvester"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

// Reimporter is the slice of the harvester the API consumes.
type Reimporter interface {
	Reimport(ctx context.Context, datasetID string) (*harvester.ReimportResult, error)
}

type Server struct {
	sourceID   string
	reimporter Reimporter
	store      store.Store
	logger     *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(sourceID string, reimporter Reimporter, st store.Store, opts ...Option) *Server {
	s := &Server{
		sourceID:   sourceID,
		reimporter: reimporter,
		store:      st,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type reimportPayload struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message,omitempty"`
	Error     *errorPayload `json:"error,omitempty"`
	PackageID string        `json:"package_id,omitempty"`
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/api/harvest/reimport", s.reimportAPI)
	r.Post("/api/harvest/reimport", s.reimportAPI)
	r.Get("/api/harvest/status", s.status)
	r.Get("/datasets/{id}/reimport", s.reimportBrowser)

	return r
}

// reimportAPI handles /api/harvest/reimport?id=<package>. Callers must
// accept JSON; responses always carry a structured payload with a stable
// numeric code on failure.
func (s *Server) reimportAPI(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(r.Header.Get("Accept")) {
		s.finish(w, http.StatusBadRequest, reimportPayload{
			Success: false,
			Error:   errorFor(harvester.ErrorWrongContentType),
		})
		return
	}

	packageID := r.URL.Query().Get("id")
	if packageID == "" {
		s.finish(w, http.StatusBadRequest, reimportPayload{
			Success: false,
			Error:   errorFor(harvester.ErrorMissingID),
		})
		return
	}

	status, payload := s.reimport(r.Context(), packageID)
	s.finish(w, status, payload)
}

// reimportBrowser handles /datasets/{id}/reimport, the path linked from
// dataset pages.
func (s *Server) reimportBrowser(w http.ResponseWriter, r *http.Request) {
	packageID := chi.URLParam(r, "id")
	status, payload := s.reimport(r.Context(), packageID)
	s.finish(w, status, payload)
}

func (s *Server) reimport(ctx context.Context, packageID string) (int, reimportPayload) {
	result, err := s.reimporter.Reimport(ctx, packageID)
	if err != nil {
		var reimportErr *harvester.ReimportError
		if errors.As(err, &reimportErr) {
			return httpStatusFor(reimportErr.Code), reimportPayload{
				Success:   false,
				Error:     &errorPayload{Code: reimportErr.Code, Message: reimportErr.Message},
				PackageID: packageID,
			}
		}
		s.logger.Error("reimport failed", zap.String("package", packageID), zap.Error(err))
		return http.StatusInternalServerError, reimportPayload{
			Success:   false,
			Error:     errorFor(harvester.ErrorUnexpected),
			PackageID: packageID,
		}
	}

	s.logger.Info("package re-imported",
		zap.String("package", packageID),
		zap.String("outcome", string(result.Outcome)))
	return http.StatusOK, reimportPayload{
		Success:   true,
		Message:   "Package was successfully re-imported.",
		PackageID: packageID,
	}
}

type statusPayload struct {
	SourceID         string `json:"source_id"`
	LastErrorFreeRun *struct {
		ID            string `json:"id"`
		GatherStarted string `json:"gather_started"`
		Finished      string `json:"finished"`
	} `json:"last_error_free_run"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{SourceID: s.sourceID}

	run, err := s.store.LastErrorFreeRun(r.Context(), s.sourceID)
	if err != nil {
		s.logger.Error("loading last error-free run", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if run != nil {
		payload.LastErrorFreeRun = &struct {
			ID            string `json:"id"`
			GatherStarted string `json:"gather_started"`
			Finished      string `json:"finished"`
		}{
			ID:            run.ID,
			GatherStarted: run.GatherStarted.Format("2006-01-02T15:04:05"),
			Finished:      run.Finished.Format("2006-01-02T15:04:05"),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) finish(w http.ResponseWriter, status int, payload reimportPayload) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mediaType == "application/json" || mediaType == "*/*" {
			return true
		}
	}
	return false
}

func errorFor(code int) *errorPayload {
	return &errorPayload{Code: code, Message: harvester.ErrorMessages[code]}
}

// httpStatusFor maps reimport error codes onto response statuses. An import
// rejection is a handled outcome, not a transport failure, so it reports
// 200 with a failure payload.
func httpStatusFor(code int) int {
	switch code {
	case harvester.ErrorWrongHTTP, harvester.ErrorWrongContentType, harvester.ErrorMissingID:
		return http.StatusBadRequest
	case harvester.ErrorNotFoundInCatalog, harvester.ErrorNotFoundRemote:
		return http.StatusNotFound
	case harvester.ErrorNotHarvested, harvester.ErrorNotHarvestedBySource:
		return http.StatusUnprocessableEntity
	case harvester.ErrorDuringImport:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Start serves the API until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting harvest API server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down harvest API server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
