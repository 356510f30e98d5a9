package api

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/tools"
	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/routes"
	"github.com/JaimeStill/marker/pkg/storage"
)

// pagesHandler serves the stored page images and their slices so clients
// can show the page behind each question card.
type pagesHandler struct {
	store  storage.System
	slicer *tools.StorageSlicer
	logger *slog.Logger
}

func newPagesHandler(store storage.System, logger *slog.Logger) *pagesHandler {
	return &pagesHandler{
		store:  store,
		slicer: tools.NewStorageSlicer(store),
		logger: logger.With("handler", "pages"),
	}
}

func (h *pagesHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/jobs/{id}/pages/{page}",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/image", Handler: h.image},
			{Method: "GET", Pattern: "/slices", Handler: h.slices},
			{Method: "GET", Pattern: "/slices/{name}", Handler: h.slice},
		},
	}
}

func (h *pagesHandler) image(w http.ResponseWriter, r *http.Request) {
	jobID, page, ok := h.target(w, r)
	if !ok {
		return
	}
	h.stream(w, r, jobs.PageKey(jobID, page))
}

func (h *pagesHandler) slices(w http.ResponseWriter, r *http.Request) {
	jobID, page, ok := h.target(w, r)
	if !ok {
		return
	}

	found, err := h.slicer.Slices(r.Context(), jobID, page)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, found)
}

func (h *pagesHandler) slice(w http.ResponseWriter, r *http.Request) {
	jobID, page, ok := h.target(w, r)
	if !ok {
		return
	}

	name := path.Base(r.PathValue("name"))
	h.stream(w, r, tools.SlicePrefix(jobID, page)+name)
}

func (h *pagesHandler) target(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrNotFound)
		return "", 0, false
	}

	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrInvalidPage)
		return "", 0, false
	}

	return id.String(), page, true
}

func (h *pagesHandler) stream(w http.ResponseWriter, r *http.Request, key string) {
	body, err := h.store.Download(r.Context(), key)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("image stream interrupted", "key", key, "error", err)
	}
}
