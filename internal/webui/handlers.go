package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"accentid/internal/logging"
	"accentid/internal/pipeline"
	"accentid/internal/preflight"
	"accentid/internal/services"
)

// ClassifyRequest is the JSON body of POST /api/classify.
type ClassifyRequest struct {
	URL string `json:"url"`
}

// ErrorResponse is returned by the JSON endpoints on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status       string             `json:"status"`
	ModelID      string             `json:"model_id"`
	LoadedModels []string           `json:"loaded_models"`
	Checks       []preflight.Result `json:"checks,omitempty"`
}

func (s *Server) handleForm(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.renderPage(w, http.StatusBadRequest, pageData{Error: "could not read form"})
		return
	}
	sourceURL := strings.TrimSpace(r.PostFormValue("url"))
	if sourceURL == "" {
		s.renderPage(w, http.StatusOK, pageData{Warning: emptyURLWarning})
		return
	}

	result, err := s.run(r.Context(), sourceURL)
	if err != nil {
		s.renderPage(w, statusForError(err), pageData{URL: sourceURL, Error: err.Error()})
		return
	}
	s.renderPage(w, http.StatusOK, pageData{URL: sourceURL, Result: &result})
}

func (s *Server) handleAPIClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxFormBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: emptyURLWarning, Kind: services.KindValidation})
		return
	}

	result, err := s.run(r.Context(), req.URL)
	if err != nil {
		s.writeJSON(w, statusForError(err), ErrorResponse{
			Error: err.Error(),
			Kind:  services.Kind(err),
			Hint:  services.Hint(err),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Status: "ok"}
	if s.health != nil {
		report = s.health(r.Context())
	}
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) run(ctx context.Context, sourceURL string) (pipeline.Result, error) {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	return s.runner.Run(ctx, sourceURL)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("failed to render page", logging.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch services.Kind(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindFetch:
		return http.StatusBadGateway
	case services.KindTranscode:
		return http.StatusUnprocessableEntity
	case services.KindModelLoad:
		return http.StatusServiceUnavailable
	case services.KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
