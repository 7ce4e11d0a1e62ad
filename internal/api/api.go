// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/cascade/internal/config"
	"github.com/JaimeStill/cascade/internal/infrastructure"
	"github.com/JaimeStill/cascade/pkg/middleware"
	"github.com/JaimeStill/cascade/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// The assembled Domain is returned alongside the module so the server can
// wire cross-cutting systems (timeout scanning, script registration) against
// the live domain systems.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Infrastructure.Logger))
	m.Use(infra.Identity.Middleware())

	return m, domain, nil
}
