package main

import (
	"encoding/json"
	"net/http"

	"github.com/JaimeStill/cascade/internal/api"
	"github.com/JaimeStill/cascade/internal/config"
	"github.com/JaimeStill/cascade/internal/infrastructure"
	"github.com/JaimeStill/cascade/pkg/module"
	"github.com/JaimeStill/cascade/pkg/openapi"
)

type Modules struct {
	API    *module.Module
	Domain *api.Domain
	spec   []byte
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	apiModule, domain, err := api.NewModule(cfg, infra)
	if err != nil {
		return nil, err
	}

	spec, err := api.BuildSpec(cfg)
	if err != nil {
		return nil, err
	}

	return &Modules{
		API:    apiModule,
		Domain: domain,
		spec:   spec,
	}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.HandleNative("GET /openapi.json", openapi.ServeSpec(m.spec))
	router.Mount(m.API)
}

func buildRouter(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !infra.Lifecycle.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	return router
}
