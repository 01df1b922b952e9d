package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/models"
	"github.com/kdimtricp/sitewatch/internal/monitoring"
	"github.com/kdimtricp/sitewatch/internal/storage"
)

// Sessions is the part of the session registry the HTTP surface drives.
type Sessions interface {
	Create(ctx context.Context, req monitoring.CreateRequest) (models.MonitoringSession, error)
	Get(id string) (models.MonitoringSession, error)
	List() []models.MonitoringSession
	Violations(id string) ([]models.ViolationAlert, error)
	Pause(id string) error
	Resume(id string) error
	Stop(id string) error
	Subscribe(id string) (*broadcast.Subscription, error)
	UpdateViolationStatus(ctx context.Context, sessionID, violationID string, status models.ViolationStatus) (models.ViolationAlert, error)
}

type App struct {
	Sessions      Sessions
	Storage       storage.Storage
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type errorResponse struct {
	Error string `json:"error"`
}

type controlResponse struct {
	Status    models.SessionStatus `json:"status"`
	SessionID string               `json:"session_id"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondErr maps a registry error onto its HTTP status.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitoring.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitoring.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, monitoring.ErrShutdown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

func (app *App) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "video file too large")
			return
		}
		respondError(w, http.StatusBadRequest, "expected a multipart form with a video file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, http.StatusBadRequest, "video is required")
		return
	}
	defer file.Close()

	req, err := parseCreateForm(header.Filename, r.FormValue("analysis_interval"), r.FormValue("auto_ticket_filing"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info := storage.FileInfo{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}
	if !storage.IsVideo(info) {
		respondError(w, http.StatusBadRequest, "only mp4, mov and avi videos are supported")
		return
	}

	rel, err := app.Storage.SaveUpload(file, info)
	if err != nil {
		logging.Error().Err(err).Str("filename", header.Filename).Msg("failed to save upload")
		respondError(w, http.StatusInternalServerError, "failed to save video")
		return
	}
	videoPath, err := app.Storage.Path(rel)
	if err != nil {
		app.Storage.Delete(rel)
		respondErr(w, err)
		return
	}

	autoTicket := req.AutoTicketFiling
	session, err := app.Sessions.Create(r.Context(), monitoring.CreateRequest{
		VideoPath:        videoPath,
		OriginalFilename: header.Filename,
		Interval:         req.AnalysisInterval,
		AutoTicket:       &autoTicket,
	})
	if err != nil {
		app.Storage.Delete(rel)
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (app *App) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, app.Sessions.List())
}

func (app *App) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := app.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (app *App) ListViolationsHandler(w http.ResponseWriter, r *http.Request) {
	violations, err := app.Sessions.Violations(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, violations)
}

func (app *App) PauseHandler(w http.ResponseWriter, r *http.Request) {
	app.control(w, r, app.Sessions.Pause)
}

func (app *App) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	app.control(w, r, app.Sessions.Resume)
}

func (app *App) StopHandler(w http.ResponseWriter, r *http.Request) {
	app.control(w, r, app.Sessions.Stop)
}

func (app *App) control(w http.ResponseWriter, r *http.Request, cmd func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := cmd(id); err != nil {
		respondErr(w, err)
		return
	}

	session, err := app.Sessions.Get(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, controlResponse{Status: session.Status, SessionID: id})
}

func (app *App) UpdateViolationHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req UpdateViolationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := validateRequest(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := models.ParseViolationStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := app.Sessions.UpdateViolationStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "violationID"), status)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}
