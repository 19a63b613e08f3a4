package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"agentdesk/internal/engine/auth"
)

type AuthConfig struct {
	// AdminToken guards /admin and /reports. Empty leaves them open.
	AdminToken string
	Logger     *slog.Logger
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// callerFromContext returns the owner id of the authenticated caller.
func callerFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func actorFromContext(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok {
		if p.UserID != "" {
			return p.UserID
		}
		return p.Source
	}
	return "anonymous"
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

type routeClass int

const (
	routePublic routeClass = iota
	routeAdmin
	routeCaller
)

func classify(rel string) routeClass {
	switch {
	case rel == "/health", rel == "/auth/login", rel == "/openapi.json", rel == "/docs",
		strings.HasPrefix(rel, "/openapi"):
		return routePublic
	case rel == "/admin" || strings.HasPrefix(rel, "/admin/"),
		rel == "/reports" || strings.HasPrefix(rel, "/reports/"):
		return routeAdmin
	default:
		return routeCaller
	}
}

func newAuthMiddleware(basePath string, cfg AuthConfig, svc *auth.Service) func(http.Handler) http.Handler {
	if cfg.AdminToken == "" {
		cfg.logger().Warn("admin token not configured; /admin and /reports are open")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodOptions {
				next.ServeHTTP(w, req)
				return
			}
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			rel := strings.TrimPrefix(req.URL.Path, basePath)
			if rel == "" {
				rel = "/"
			}
			switch classify(rel) {
			case routePublic:
				next.ServeHTTP(w, req)
			case routeAdmin:
				if cfg.AdminToken == "" {
					next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), auth.Principal{Source: "admin"})))
					return
				}
				given := strings.TrimSpace(req.Header.Get("X-Admin-Token"))
				if subtle.ConstantTimeCompare([]byte(given), []byte(cfg.AdminToken)) != 1 {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "admin token required", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), auth.Principal{Source: "admin"})))
			default:
				principal, err := authenticateCaller(req, svc)
				if err != nil {
					respondStatusError(w, handleError(err))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			}
		})
	}
}

// authenticateCaller prefers a bearer token over X-API-Key.
func authenticateCaller(req *http.Request, svc *auth.Service) (auth.Principal, error) {
	ctx := req.Context()
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		token, ok := bearerToken(authz)
		if !ok {
			return auth.Principal{}, errors.Join(auth.ErrUnauthorized, errors.New("malformed authorization header"))
		}
		return svc.AuthenticateToken(ctx, token)
	}
	return svc.Authenticate(ctx, req.Header.Get("X-API-Key"))
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
