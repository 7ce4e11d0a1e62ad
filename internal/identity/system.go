package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/JaimeStill/cascade/pkg/handlers"
	"github.com/JaimeStill/cascade/pkg/lifecycle"
)

// System authenticates callers and exposes HTTP middleware that attaches
// the resolved Caller to the request context.
type System interface {
	// Start registers a startup hook that performs OIDC provider discovery.
	Start(lc *lifecycle.Coordinator) error
	// Authenticate verifies a raw bearer token and returns the caller.
	Authenticate(ctx context.Context, rawToken string) (*Caller, error)
	// Middleware rejects unauthenticated requests and injects the caller.
	Middleware() func(http.Handler) http.Handler
}

type system struct {
	cfg      Config
	logger   *slog.Logger
	verifier *oidc.IDTokenVerifier
}

// New creates an identity system. Provider discovery is deferred to Start
// so construction never blocks on the network.
func New(cfg Config, logger *slog.Logger) System {
	return &system{
		cfg:    cfg,
		logger: logger.With("system", "identity"),
	}
}

func (s *system) Start(lc *lifecycle.Coordinator) error {
	if !s.cfg.Enabled {
		s.logger.Warn("identity verification disabled; callers resolved from headers")
		return nil
	}

	lc.OnStartup(func() {
		provider, err := oidc.NewProvider(lc.Context(), s.cfg.Issuer)
		if err != nil {
			s.logger.Error("oidc provider discovery failed", "issuer", s.cfg.Issuer, "error", err)
			return
		}

		s.verifier = provider.Verifier(&oidc.Config{ClientID: s.cfg.ClientID})
		s.logger.Info("identity provider ready", "issuer", s.cfg.Issuer)
	})

	return nil
}

func (s *system) Authenticate(ctx context.Context, rawToken string) (*Caller, error) {
	if !s.cfg.Enabled {
		return nil, ErrUnauthenticated
	}
	if s.verifier == nil {
		return nil, fmt.Errorf("identity provider not ready: %w", ErrUnauthenticated)
	}

	token, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	caller := &Caller{Subject: token.Subject}
	if name, ok := claims["name"].(string); ok {
		caller.Name = name
	}
	caller.Roles = rolesFromClaim(claims[s.cfg.RolesClaim])

	return caller, nil
}

func (s *system) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := s.resolve(r)
			if err != nil {
				handlers.RespondError(w, s.logger, MapHTTPStatus(err), err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func (s *system) resolve(r *http.Request) (*Caller, error) {
	if !s.cfg.Enabled {
		return devCaller(r), nil
	}

	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrUnauthenticated
	}

	return s.Authenticate(r.Context(), raw)
}

// devCaller builds a caller from override headers for local development.
// Absent headers yield an anonymous admin, matching a trusted local setup.
func devCaller(r *http.Request) *Caller {
	caller := &Caller{
		Subject: "local",
		Roles:   []string{RoleAdmin, RoleDesigner},
	}

	if subject := r.Header.Get("X-Caller-Subject"); subject != "" {
		caller.Subject = subject
	}
	if roles := r.Header.Get("X-Caller-Roles"); roles != "" {
		caller.Roles = strings.Split(roles, ",")
		for i := range caller.Roles {
			caller.Roles[i] = strings.TrimSpace(caller.Roles[i])
		}
	}

	return caller
}

func rolesFromClaim(claim any) []string {
	switch v := claim.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}
