// Package server exposes the broker's HTTP surface (spec.md §6, component
// C7): the browser-facing login/callback/team-selection pages and the
// CLI/CI-facing start/exchange/health/jwks JSON endpoints.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/jrsteele09/bazel-auth-broker/internal/config"
	"github.com/jrsteele09/bazel-auth-broker/keymanager"
	"github.com/jrsteele09/bazel-auth-broker/orchestrator"
)

const sessionCookieName = "bazel_broker_state"

type handlers struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	keys    *keymanager.Manager
	vault   vaultHealthChecker
	cookie  *securecookie.SecureCookie
	tmpl    *templates
	baseURL string
}

// vaultHealthChecker is the subset of vaultclient.Client the health
// endpoint needs (spec.md §6 /health).
type vaultHealthChecker interface {
	Reachable(ctx context.Context) bool
}

// New builds the broker's top-level http.Handler: every route wrapped in
// request-id, logging, recovery, and CORS middleware, matching the
// teacher's layered std_middleware composition in its own server.
func New(cfg config.Config, orch *orchestrator.Orchestrator, keys *keymanager.Manager, vault vaultHealthChecker, cookieHashKey, cookieBlockKey []byte) http.Handler {
	h := &handlers{
		cfg:     cfg,
		orch:    orch,
		keys:    keys,
		vault:   vault,
		cookie:  securecookie.New(cookieHashKey, cookieBlockKey),
		tmpl:    mustParseTemplates(),
		baseURL: cfg.GetBaseURL(),
	}

	mux := http.NewServeMux()
	h.registerRoutes(mux)

	return chain(mux,
		withRequestID,
		withLogging,
		withRecovery,
		withCORS(cfg),
	)
}
