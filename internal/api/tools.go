package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JaimeStill/marker/internal/tools"
	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/mathsandbox"
	"github.com/JaimeStill/marker/pkg/routes"
)

var (
	errExpressionRequired = errors.New("expression required")
	errIndexEntryInvalid  = errors.New("question and answer required")
)

// toolsHandler exposes the sandbox for debugging expressions and lets
// operators maintain the reference answer index.
type toolsHandler struct {
	sandbox *mathsandbox.Sandbox
	index   *tools.RedisIndex
	logger  *slog.Logger
}

func newToolsHandler(sandbox *mathsandbox.Sandbox, index *tools.RedisIndex, logger *slog.Logger) *toolsHandler {
	return &toolsHandler{
		sandbox: sandbox,
		index:   index,
		logger:  logger.With("handler", "tools"),
	}
}

func (h *toolsHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/tools",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/math", Handler: h.math},
			{Method: "GET", Pattern: "/index", Handler: h.lookup},
			{Method: "PUT", Pattern: "/index", Handler: h.put},
		},
	}
}

type mathRequest struct {
	Expression string `json:"expression"`
}

// math evaluates an expression. Sandbox rejections are reported in the body
// with a 200 status; only malformed requests fail.
func (h *toolsHandler) math(w http.ResponseWriter, r *http.Request) {
	var req mathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Expression) == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errExpressionRequired)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, h.sandbox.Evaluate(r.Context(), req.Expression))
}

func (h *toolsHandler) lookup(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if strings.TrimSpace(question) == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errIndexEntryInvalid)
		return
	}

	entries, err := h.index.Lookup(r.Context(), question)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entries)
}

func (h *toolsHandler) put(w http.ResponseWriter, r *http.Request) {
	var entry tools.IndexEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(entry.Question) == "" || strings.TrimSpace(entry.Answer) == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errIndexEntryInvalid)
		return
	}

	if err := h.index.Put(r.Context(), entry); err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entry)
}
