package api

import (
	"net/http"

	"github.com/JaimeStill/cascade/internal/config"
	"github.com/JaimeStill/cascade/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
) {
	routes.Register(
		mux,
		domain.Definitions.Handler().Routes(),
		domain.Documents.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Notifications.Handler().Routes(),
		domain.Executions.Handler().Routes(),
	)
}
