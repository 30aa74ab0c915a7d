// Package orchestrator sequences components C2 through C6 behind the
// session state machine (spec.md §4.8, component C8). It is the only
// package that depends on all of them; none of them import it back
// (spec.md §9: dependencies point strictly downward).
package orchestrator

import (
	"context"
	"time"

	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/jrsteele09/bazel-auth-broker/idp"
	"github.com/jrsteele09/bazel-auth-broker/idp/nonce"
	"github.com/jrsteele09/bazel-auth-broker/idp/pkce"
	"github.com/jrsteele09/bazel-auth-broker/session"
	"github.com/jrsteele09/bazel-auth-broker/team"
	"github.com/jrsteele09/bazel-auth-broker/vaultclient"
)

// IdPClient is the subset of idp.Client the orchestrator drives.
type IdPClient interface {
	BuildAuthRequest(ctx context.Context) (*idp.AuthRequest, error)
	ExchangeCode(ctx context.Context, code string, verifier pkce.Code, expectedNonce nonce.Nonce) (*idp.Claims, error)
}

// VaultAuthenticator is the subset of vaultclient.Client the orchestrator
// drives.
type VaultAuthenticator interface {
	AuthenticateAsTeam(ctx context.Context, jwtRole, brokerJWT string) (*vaultclient.TeamIdentity, error)
	CreateChildToken(ctx context.Context, parentAuthToken string, params vaultclient.ChildTokenParams) (*vaultclient.ChildToken, error)
}

// JWTIssuer is the subset of brokerjwt.Issuer the orchestrator drives.
type JWTIssuer interface {
	Issue(claims brokerjwt.Claims) (string, error)
}

// Config carries the broker's own identity and per-flow TTLs.
type Config struct {
	BrokerIssuer      string
	BrokerJWTAudience string
	SessionTTL        time.Duration
	// ExchangeTTL is the window a session gets once it reaches
	// READY_FOR_EXCHANGE, refreshed from SessionTTL on that transition
	// (spec.md §3: default 5 minutes).
	ExchangeTTL time.Duration
}

// Orchestrator owns every downstream dependency needed to run a login flow
// start to finish.
type Orchestrator struct {
	idp      IdPClient
	sessions session.Store
	resolver *team.Resolver
	issuer   JWTIssuer
	vault    VaultAuthenticator
	cfg      Config
}

func New(idpClient IdPClient, sessions session.Store, resolver *team.Resolver, issuer JWTIssuer, vault VaultAuthenticator, cfg Config) *Orchestrator {
	return &Orchestrator{idp: idpClient, sessions: sessions, resolver: resolver, issuer: issuer, vault: vault, cfg: cfg}
}

// LoginStart is the result of beginning a flow: the URL to send the user's
// browser to, and the session_id the caller must hold onto.
type LoginStart struct {
	SessionID string
	State     string
	AuthURL   string
}

// StartLogin begins a new authentication flow (spec.md §4.8 PENDING_CALLBACK
// entry), used by both /auth/login and /cli/start.
func (o *Orchestrator) StartLogin(ctx context.Context) (*LoginStart, error) {
	req, err := o.idp.BuildAuthRequest(ctx)
	if err != nil {
		return nil, err
	}

	st, err := o.sessions.Create(session.CreateParams{
		OAuthState:    req.State.String(),
		PKCEVerifier:  string(req.PKCEVerifier),
		PKCEChallenge: req.PKCEVerifier.Challenge(),
		Nonce:         req.Nonce.String(),
		TTL:           o.cfg.SessionTTL,
	})
	if err != nil {
		return nil, err
	}

	return &LoginStart{SessionID: st.SessionID, State: req.State.String(), AuthURL: req.URL}, nil
}

// CallbackResult tells the caller what the browser should show next.
type CallbackResult struct {
	SessionID         string
	RequiresSelection bool
	CandidateTeams    []string
	SelectedTeam      string
}

// HandleCallback validates the OAuth2 callback, exchanges the code, and
// resolves candidate teams (spec.md §4.8: PENDING_CALLBACK ->
// AWAITING_TEAM_SELECTION or READY_FOR_EXCHANGE).
func (o *Orchestrator) HandleCallback(ctx context.Context, returnedState, code string) (*CallbackResult, error) {
	st, err := o.sessions.FindByState(returnedState)
	if err != nil {
		return nil, err
	}

	claims, err := o.idp.ExchangeCode(ctx, code, pkce.Code(st.PKCEVerifier), nonce.Nonce(st.Nonce))
	if err != nil {
		o.fail(st.SessionID, session.StatusPendingCallback, err)
		return nil, err
	}

	candidates, err := o.resolver.Resolve(claims.Groups)
	if err != nil {
		o.fail(st.SessionID, session.StatusPendingCallback, err)
		return nil, err
	}

	nextStatus := session.StatusReadyForExchange
	requiresSelection := team.RequiresSelection(candidates)
	if requiresSelection {
		nextStatus = session.StatusAwaitingTeamSelection
	}

	selected := ""
	if !requiresSelection {
		selected = candidates[0]
	}

	extendTTL := time.Duration(0)
	if !requiresSelection {
		extendTTL = o.cfg.ExchangeTTL
	}
	updated, err := o.sessions.Transition(st.SessionID, session.StatusPendingCallback, nextStatus, extendTTL, func(s *session.State) {
		s.User = session.User{
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
			Subject:     claims.Subject,
			Groups:      append([]string(nil), claims.Groups...),
		}
		s.CandidateTeams = candidates
		s.SelectedTeam = selected
	})
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		SessionID:         updated.SessionID,
		RequiresSelection: requiresSelection,
		CandidateTeams:    updated.CandidateTeams,
		SelectedTeam:      updated.SelectedTeam,
	}, nil
}

// GetSession returns a read-only snapshot of a session, for rendering the
// browser's team-selection and success pages.
func (o *Orchestrator) GetSession(sessionID string) (*session.State, error) {
	return o.sessions.FindBySessionID(sessionID)
}

// SelectTeam records the caller's choice among the candidate teams (spec.md
// §4.8: AWAITING_TEAM_SELECTION -> READY_FOR_EXCHANGE).
func (o *Orchestrator) SelectTeam(ctx context.Context, sessionID, teamName string) (*session.State, error) {
	st, err := o.sessions.FindBySessionID(sessionID)
	if err != nil {
		return nil, err
	}

	valid := false
	for _, candidate := range st.CandidateTeams {
		if candidate == teamName {
			valid = true
			break
		}
	}
	if !valid {
		return nil, brokererrors.New(brokererrors.KindInvalidTeamSelection, "selected team is not a candidate for this session")
	}

	return o.sessions.Transition(sessionID, session.StatusAwaitingTeamSelection, session.StatusReadyForExchange, o.cfg.ExchangeTTL, func(s *session.State) {
		s.SelectedTeam = teamName
	})
}

// ExchangeResult is the minted Vault child token handed back to the caller.
type ExchangeResult struct {
	VaultToken string
	TTL        time.Duration
	NumUses    int
	Team       string
	Policies   []string
	Metadata   map[string]string
}

// Exchange performs the single linearizable state transition that hands out
// the Vault child token exactly once (spec.md §4.8 READY_FOR_EXCHANGE ->
// EXCHANGED, §5, §8 scenario 3), then mints the broker JWT and talks to
// Vault. The store's Transition call is what guarantees exactly one
// concurrent caller gets past the SESSION_NOT_READY check.
func (o *Orchestrator) Exchange(ctx context.Context, sessionID string, metadata brokerjwt.ExchangeMetadata) (*ExchangeResult, error) {
	st, err := o.sessions.Transition(sessionID, session.StatusReadyForExchange, session.StatusExchanged, 0, nil)
	if err != nil {
		// A losing concurrent /exchange, or a retry against a session someone
		// else already exchanged, lands here as generic SESSION_NOT_READY from
		// the store's CAS; spec.md §7/§8 scenario 3 want the more specific
		// SESSION_ALREADY_USED when the reason is exactly that this session's
		// single use is already spent.
		if brokererrors.Is(err, brokererrors.KindSessionNotReady) {
			if current, lookupErr := o.sessions.FindBySessionID(sessionID); lookupErr == nil && current.Status == session.StatusExchanged {
				return nil, brokererrors.New(brokererrors.KindSessionAlreadyUsed, "session has already been exchanged")
			}
		}
		return nil, err
	}

	teamCfg, ok := o.resolver.Team(st.SelectedTeam)
	if !ok {
		o.markFailed(sessionID, "selected team has no vault configuration")
		return nil, brokererrors.New(brokererrors.KindVaultRoleMissing, "selected team has no vault configuration")
	}

	brokerJWT, err := o.issuer.Issue(brokerjwt.Claims{
		Issuer:      o.cfg.BrokerIssuer,
		Audience:    o.cfg.BrokerJWTAudience,
		Team:        st.SelectedTeam,
		UserEmail:   st.User.Email,
		UserName:    st.User.DisplayName,
		UserSubject: st.User.Subject,
		Groups:      st.User.Groups,
		Metadata:    metadata,
	})
	if err != nil {
		o.markFailed(sessionID, "failed to mint broker jwt")
		return nil, brokererrors.Wrap(brokererrors.KindInternal, err, "mint broker jwt")
	}

	identity, err := o.vault.AuthenticateAsTeam(ctx, teamCfg.JWTRole, brokerJWT)
	if err != nil {
		o.markFailed(sessionID, "vault jwt auth failed")
		return nil, err
	}

	ttl := teamCfg.TTLDefault
	if ttl > teamCfg.TTLMax {
		ttl = teamCfg.TTLMax
	}
	uses := teamCfg.Uses
	if uses <= 0 {
		uses = 1
	}

	childMetadata := map[string]string{
		"team": st.SelectedTeam,
		"user": st.User.Email,
	}
	if st.User.DisplayName != "" {
		childMetadata["name"] = st.User.DisplayName
	}
	if metadata.Pipeline != "" {
		childMetadata["pipeline"] = metadata.Pipeline
	}
	if metadata.Repo != "" {
		childMetadata["repo"] = metadata.Repo
	}
	if metadata.Target != "" {
		childMetadata["target"] = metadata.Target
	}
	if metadata.RunID != "" {
		childMetadata["run_id"] = metadata.RunID
	}

	token, err := o.vault.CreateChildToken(ctx, identity.ClientToken, vaultclient.ChildTokenParams{
		TokenRole: teamCfg.TokenRole,
		TTL:       ttl,
		NumUses:   uses,
		Policies:  teamCfg.Policies,
		Metadata:  childMetadata,
	})
	if err != nil {
		o.markFailed(sessionID, "vault child token creation failed")
		return nil, err
	}

	policies := token.Policies
	if len(policies) == 0 {
		policies = teamCfg.Policies
	}
	resultMetadata := token.Metadata
	if len(resultMetadata) == 0 {
		resultMetadata = childMetadata
	}

	return &ExchangeResult{
		VaultToken: token.Token,
		TTL:        token.TTL,
		NumUses:    token.NumUses,
		Team:       st.SelectedTeam,
		Policies:   policies,
		Metadata:   resultMetadata,
	}, nil
}

// fail transitions a session to FAILED from a known prior state, recording
// cause for logging. Transition failures here are deliberately swallowed:
// the caller already has the original error to return.
func (o *Orchestrator) fail(sessionID string, from session.Status, cause error) {
	_, _ = o.sessions.Transition(sessionID, from, session.StatusFailed, 0, func(s *session.State) {
		s.FailureReason = cause.Error()
	})
}

// markFailed records a failure on a session already in EXCHANGED — Vault
// calls happen after the single-use transition has already consumed the
// session, so a downstream failure cannot be retried by re-exchanging. The
// session moves from EXCHANGED to FAILED with reason stored in FailureReason.
func (o *Orchestrator) markFailed(sessionID, reason string) {
	st, err := o.sessions.FindBySessionID(sessionID)
	if err != nil || st == nil {
		return
	}
	_, _ = o.sessions.Transition(sessionID, session.StatusExchanged, session.StatusFailed, 0, func(s *session.State) {
		s.FailureReason = reason
	})
}
