package api

import (
	"net/http"

	"github.com/JaimeStill/marker/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) {
	patterns := routes.Register(
		mux,
		domain.Jobs.Handler().Routes(),
		domain.Grading.Handler(domain.Events).Routes(),
		domain.Review.Handler().Routes(),
		newPagesHandler(runtime.Storage, runtime.Logger).routes(),
		newToolsHandler(domain.Sandbox, domain.Index, runtime.Logger).routes(),
	)
	runtime.Logger.Debug("routes registered", "count", len(patterns))
}
