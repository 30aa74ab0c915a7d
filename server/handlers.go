package server

import (
	"errors"
	"io"
	"net/http"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
)

// registerRoutes wires the broker's full HTTP surface (spec.md §4.7): the
// browser flow, the CLI/CI flow, health, and JWKS. Route patterns use Go
// 1.22+ ServeMux method matching, the same "METHOD /path" shape the
// teacher's own router registers routes with.
func (h *handlers) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /.well-known/jwks.json", h.handleJWKS)

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /auth/login", h.handleAuthLogin)
	mux.HandleFunc("GET /auth/callback", h.handleAuthCallback)
	mux.HandleFunc("GET /auth/select-team", h.handleSelectTeamGet)
	mux.HandleFunc("POST /auth/select-team", h.handleSelectTeamPost)

	mux.HandleFunc("POST /cli/start", h.handleCLIStart)
	mux.HandleFunc("POST /exchange", h.handleExchange)
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = h.tmpl.login.Execute(w, nil)
}

func (h *handlers) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.keys.JWKS())
}

// handleCLIStart begins a flow for a CLI/CI caller (spec.md §4.7, §6 CLI
// flow wire contract): the caller builds nothing further, auth_url is
// already fully formed.
func (h *handlers) handleCLIStart(w http.ResponseWriter, r *http.Request) {
	// Body is conventionally {}; this route takes no input fields today, so
	// it is never parsed (unknown/absent fields are both fine).
	start, err := h.orch.StartLogin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cliStartResponse{
		SessionID: start.SessionID,
		State:     start.State,
		AuthURL:   start.AuthURL,
		ExpiresIn: int(h.cfg.GetSessionTTL().Seconds()),
	})
}

// handleAuthLogin begins a flow for the browser and redirects straight to
// the IdP, setting a signed state cookie the callback can cross-check
// against the query parameter as a defense-in-depth CSRF guard on top of
// the session store's own state index (spec.md §6 browser flow).
func (h *handlers) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.orch.StartLogin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if encoded, err := h.cookie.Encode(sessionCookieName, start.State); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    encoded,
			Path:     "/auth",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(h.cfg.GetSessionTTL().Seconds()),
		})
	}

	http.Redirect(w, r, start.AuthURL, http.StatusFound)
}

// handleAuthCallback validates the IdP redirect and advances the session
// past PENDING_CALLBACK (spec.md §4.8). A state value this broker never
// issued is surfaced as INVALID_STATE at the HTTP boundary even though the
// session store itself reports SESSION_NOT_FOUND for any unknown state
// index lookup — the two are the same underlying condition on this route,
// and spec.md §7/§8 fix the wire-visible kind to INVALID_STATE here.
func (h *handlers) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	returnedState := query.Get("state")
	code := query.Get("code")

	if errParam := query.Get("error"); errParam != "" {
		writeError(w, brokererrors.New(brokererrors.KindIDTokenInvalid, "idp returned an authorization error: "+errParam))
		return
	}
	if returnedState == "" || code == "" {
		writeError(w, brokererrors.New(brokererrors.KindInvalidState, "missing code or state parameter"))
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		var cookieState string
		if decodeErr := h.cookie.Decode(sessionCookieName, cookie.Value, &cookieState); decodeErr == nil {
			if cookieState != returnedState {
				writeError(w, brokererrors.New(brokererrors.KindInvalidState, "state cookie does not match callback state"))
				return
			}
		}
	}

	result, err := h.orch.HandleCallback(r.Context(), returnedState, code)
	if err != nil {
		var be *brokererrors.Error
		if brokererrors.As(err, &be) && be.Kind == brokererrors.KindSessionNotFound {
			writeError(w, brokererrors.New(brokererrors.KindInvalidState, "state parameter does not match any pending session"))
			return
		}
		writeError(w, err)
		return
	}

	if result.RequiresSelection {
		http.Redirect(w, r, "/auth/select-team?session_id="+result.SessionID, http.StatusFound)
		return
	}

	h.renderCallbackPage(w, result.SessionID, result.SelectedTeam)
}

func (h *handlers) renderCallbackPage(w http.ResponseWriter, sessionID, selectedTeam string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = h.tmpl.callback.Execute(w, struct {
		SessionID string
		Team      string
		BaseURL   string
	}{SessionID: sessionID, Team: selectedTeam, BaseURL: h.baseURL})
}

// handleSelectTeamGet renders the team-choice page for a session awaiting
// selection (spec.md §4.7).
func (h *handlers) handleSelectTeamGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, brokererrors.New(brokererrors.KindSessionNotFound, "session_id is required"))
		return
	}

	st, err := h.orch.GetSession(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = h.tmpl.selectTeam.Execute(w, struct {
		SessionID      string
		CandidateTeams []string
	}{SessionID: st.SessionID, CandidateTeams: st.CandidateTeams})
}

// handleSelectTeamPost records the user's chosen team and renders the same
// callback page a single-team flow would have shown (spec.md §4.8
// AWAITING_TEAM_SELECTION -> READY_FOR_EXCHANGE).
func (h *handlers) handleSelectTeamPost(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSelectTeamRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, brokererrors.New(brokererrors.KindSessionNotFound, "session_id is required"))
		return
	}
	if req.Team == "" {
		writeError(w, brokererrors.New(brokererrors.KindInvalidTeamSelection, "team is required"))
		return
	}

	st, err := h.orch.SelectTeam(r.Context(), req.SessionID, req.Team)
	if err != nil {
		writeError(w, err)
		return
	}

	h.renderCallbackPage(w, st.SessionID, st.SelectedTeam)
}

// handleExchange is the single point where a Vault child token is minted
// (spec.md §4.8, §5, §8 scenario 3: exactly one concurrent caller wins).
func (h *handlers) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, brokererrors.New(brokererrors.KindSessionNotFound, "session_id is required"))
			return
		}
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orch.Exchange(r.Context(), req.SessionID, req.metadata())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exchangeResponse{
		Token:         result.VaultToken,
		TTL:           int(result.TTL.Seconds()),
		UsesRemaining: result.NumUses,
		Policies:      result.Policies,
		Metadata:      result.Metadata,
	})
}
