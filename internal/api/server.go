// Package api provides the read-only HTTP surface over the audit store:
// run summaries and external-sharing findings. Dashboards and exports
// consume these endpoints; nothing here mutates state.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// Server serves the audit query API.
type Server struct {
	runs   domain.RunRepository
	perms  domain.PermissionRepository
	logger *slog.Logger
}

func NewServer(runs domain.RunRepository, perms domain.PermissionRepository, logger *slog.Logger) *Server {
	return &Server{
		runs:   runs,
		perms:  perms,
		logger: logger.With("component", "api"),
	}
}

// Router builds the chi router for the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/external-sharing", s.handleExternalSharing)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runSummary struct {
	RunID            string     `json:"run_id"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	TotalSites       int64      `json:"total_sites"`
	TotalLibraries   int64      `json:"total_libraries"`
	TotalFolders     int64      `json:"total_folders"`
	TotalFiles       int64      `json:"total_files"`
	TotalPermissions int64      `json:"total_permissions"`
	ErrorCount       int64      `json:"error_count"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
}

func toRunSummary(run *domain.RunMetadata) runSummary {
	return runSummary{
		RunID:            run.RunID,
		Status:           run.Status,
		StartTime:        run.StartTime,
		EndTime:          run.EndTime,
		TotalSites:       run.TotalSites,
		TotalLibraries:   run.TotalLibraries,
		TotalFolders:     run.TotalFolders,
		TotalFiles:       run.TotalFiles,
		TotalPermissions: run.TotalPermissions,
		ErrorCount:       run.ErrorCount,
		ErrorSummary:     run.ErrorSummary,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.serveDomainError(w, err)
		return
	}
	out := make([]runSummary, 0, len(runs))
	for i := range runs {
		out = append(out, toRunSummary(&runs[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.serveDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunSummary(run))
}

type sharingEntry struct {
	ObjectType      string `json:"object_type"`
	ObjectID        string `json:"object_id"`
	PrincipalType   string `json:"principal_type"`
	PrincipalID     string `json:"principal_id"`
	PrincipalName   string `json:"principal_name"`
	PermissionLevel string `json:"permission_level"`
	IsAnonymousLink bool   `json:"is_anonymous_link"`
}

func (s *Server) handleExternalSharing(w http.ResponseWriter, r *http.Request) {
	entries, err := s.perms.ListExternalEntries(r.Context())
	if err != nil {
		s.serveDomainError(w, err)
		return
	}
	out := make([]sharingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, sharingEntry{
			ObjectType:      e.ObjectType,
			ObjectID:        e.ObjectID,
			PrincipalType:   e.PrincipalType,
			PrincipalID:     e.PrincipalID,
			PrincipalName:   e.PrincipalName,
			PermissionLevel: e.PermissionLevel,
			IsAnonymousLink: e.IsAnonymousLink,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(out),
		"entries": out,
	})
}

func (s *Server) serveDomainError(w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &notFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}
