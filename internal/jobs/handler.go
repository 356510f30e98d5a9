package jobs

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/pagination"
	"github.com/JaimeStill/marker/pkg/routes"
)

// Handler provides read endpoints for grading jobs.
type Handler struct {
	sys    System
	pages  pagination.Config
	logger *slog.Logger
}

// NewHandler creates a Handler for the given system.
func NewHandler(sys System, pages pagination.Config, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		pages:  pages,
		logger: logger.With("handler", "jobs"),
	}
}

// Routes returns the job read routes.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/jobs",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/cards/{itemId}", Handler: h.FindCard},
		},
	}
}

// List returns a page of jobs filtered by ?status= and ordered by ?sort=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	filter, err := ParseListFilter(values)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	page := pagination.PageRequestFromQuery(values, h.pages)
	result, err := h.sys.List(r.Context(), page, filter)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns the job with its page summaries and question cards. Cards
// keep changing after the job is done while reviews complete, so clients
// poll until no card is review_pending.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	job, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, job)
}

// FindCard returns a single question card.
func (h *Handler) FindCard(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	card, err := h.sys.FindCard(r.Context(), id, r.PathValue("itemId"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, card)
}
