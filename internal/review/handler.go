package review

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/routes"
)

// Handler exposes manual review retries.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.With("handler", "review"),
	}
}

// Routes returns the review routes.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/jobs",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/{id}/cards/{itemId}/review", Handler: h.Retry},
		},
	}
}

// Retry re-queues a card whose review failed.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, jobs.ErrNotFound)
		return
	}

	card, err := h.svc.Retry(r.Context(), id, r.PathValue("itemId"))
	if err != nil {
		handlers.RespondError(w, h.logger, jobs.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, card)
}
