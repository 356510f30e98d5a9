package grading

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/routes"
)

// EventLog lists the recorded loop events of a job.
type EventLog interface {
	List(ctx context.Context, jobID string, after int64) ([]events.Event, error)
}

// Handler exposes job submission, page retry, and the event log.
type Handler struct {
	svc           *Service
	events        EventLog
	maxUploadSize int64
	logger        *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, log EventLog, maxUploadSize int64, logger *slog.Logger) *Handler {
	return &Handler{
		svc:           svc,
		events:        log,
		maxUploadSize: maxUploadSize,
		logger:        logger.With("handler", "grading"),
	}
}

// Handler returns the grading HTTP handler.
func (s *Service) Handler(log EventLog) *Handler {
	return NewHandler(s, log, s.cfg.MaxUploadSize, s.logger)
}

// Routes returns the grading routes.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/jobs",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Submit},
			{Method: "POST", Pattern: "/{id}/pages/{page}/retry", Handler: h.Retry},
			{Method: "GET", Pattern: "/{id}/events", Handler: h.Events},
		},
	}
}

// Submit accepts a multipart form whose "pages" files are page images or a
// single PDF, and returns the queued job.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid form: %w", err))
		return
	}

	files := r.MultipartForm.File["pages"]
	if len(files) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNoPages)
		return
	}

	uploads := make([]Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("open %s: %w", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("read %s: %w", fh.Filename, err))
			return
		}
		uploads = append(uploads, Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	job, err := h.svc.Submit(r.Context(), uploads)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, job)
}

// Retry re-queues a job from the given page.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrNotFound)
		return
	}

	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrInvalidPage)
		return
	}

	job, err := h.svc.Resume(r.Context(), id, page)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, job)
}

// Events returns the job's loop events with a sequence above the "after"
// query parameter.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrNotFound)
		return
	}

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		if after, err = strconv.ParseInt(v, 10, 64); err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid after: %w", err))
			return
		}
	}

	if _, err := h.svc.jobs.Find(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	list, err := h.events.List(r.Context(), id.String(), after)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, list)
}
