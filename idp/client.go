// Package idp wraps the external OpenID Connect identity provider the
// broker delegates user authentication to (spec.md §4.2, component C2).
// It builds the authorization URL, exchanges the authorization code,
// verifies the returned ID token against the provider's JWKS, and fetches
// the userinfo claims the broker needs to resolve teams.
package idp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/jrsteele09/bazel-auth-broker/idp/nonce"
	"github.com/jrsteele09/bazel-auth-broker/idp/pkce"
	"github.com/jrsteele09/bazel-auth-broker/idp/state"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Claims is the subset of the ID token and userinfo response the broker
// actually uses downstream (spec.md §4.2, §4.4).
type Claims struct {
	Subject     string
	Email       string
	DisplayName string
	Groups      []string
}

// AuthRequest bundles the per-attempt secrets a caller must retain (in the
// session store) to validate the eventual callback.
type AuthRequest struct {
	URL          string
	State        state.State
	Nonce        nonce.Nonce
	PKCEVerifier pkce.Code
}

// Client is the broker's OIDC relying-party client.
type Client struct {
	oauthConfig oauth2.Config
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client

	issuer string

	sf singleflight.Group
}

// Config carries the values needed to stand up a Client.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// New discovers the provider's OIDC metadata and builds a Client. It makes
// one network call (provider discovery); callers should do this once at
// startup, not per-request.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ctx = oidc.ClientContext(ctx, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindIdPUnreachable, err, "discover oidc provider")
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Client{
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		provider:   provider,
		verifier:   verifier,
		httpClient: httpClient,
		issuer:     cfg.IssuerURL,
	}, nil
}

// BuildAuthRequest generates a fresh state/nonce/PKCE verifier and returns
// the authorization URL a browser should be redirected to (spec.md §4.2
// build_authorize_url). The caller is responsible for persisting the
// returned state, nonce, and verifier alongside the session so the eventual
// callback can be validated.
func (c *Client) BuildAuthRequest(ctx context.Context) (*AuthRequest, error) {
	st, err := state.Generate()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindInternal, err, "generate oauth2 state")
	}
	no, err := nonce.Generate()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindInternal, err, "generate oidc nonce")
	}
	verifier, err := pkce.Generate()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindInternal, err, "generate pkce verifier")
	}

	url := c.oauthConfig.AuthCodeURL(st.String(),
		no.Param(),
		verifier.ChallengeOption(),
		verifier.MethodOption(),
	)

	return &AuthRequest{URL: url, State: st, Nonce: no, PKCEVerifier: verifier}, nil
}

// ExchangeCode trades an authorization code for tokens, verifies the ID
// token's signature/issuer/audience/nonce, and returns the claims the
// broker needs (spec.md §4.2 exchange_code, verify_id_token).
func (c *Client) ExchangeCode(ctx context.Context, code string, verifier pkce.Code, expectedNonce nonce.Nonce) (*Claims, error) {
	ctx = oidc.ClientContext(ctx, c.httpClient)

	oauth2Token, err := c.oauthConfig.Exchange(ctx, code, verifier.VerifierOption())
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindIdPBadResponse, err, "exchange authorization code")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, brokererrors.New(brokererrors.KindIDTokenInvalid, "token response did not include an id_token")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindIDTokenInvalid, err, "verify id token")
	}

	if err := expectedNonce.Validate(idToken); err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindNonceMismatch, err, "validate id token nonce")
	}

	var idClaims struct {
		Email   string   `json:"email"`
		Name    string   `json:"name"`
		Groups  []string `json:"groups"`
		Subject string   `json:"sub"`
	}
	if err := idToken.Claims(&idClaims); err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindIdPBadResponse, err, "decode id token claims")
	}

	claims := &Claims{
		Subject:     idToken.Subject,
		Email:       idClaims.Email,
		DisplayName: idClaims.Name,
		Groups:      idClaims.Groups,
	}

	if len(claims.Groups) == 0 {
		userInfoClaims, err := c.fetchUserInfo(ctx, oauth2Token)
		if err == nil && len(userInfoClaims.Groups) > 0 {
			claims.Groups = userInfoClaims.Groups
		}
	}

	return claims, nil
}

// fetchUserInfo calls the provider's userinfo endpoint to fill in group
// membership when the ID token itself didn't carry it (spec.md §4.2
// fetch_userinfo). Concurrent callback requests that race on an identical
// access token are collapsed onto a single outbound call.
func (c *Client) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*Claims, error) {
	key := token.AccessToken
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		ctx = oidc.ClientContext(ctx, c.httpClient)
		info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, brokererrors.Wrap(brokererrors.KindIdPBadResponse, err, "fetch userinfo")
		}

		var raw struct {
			Groups []string `json:"groups"`
			Email  string   `json:"email"`
			Name   string   `json:"name"`
		}
		if err := info.Claims(&raw); err != nil {
			return nil, brokererrors.Wrap(brokererrors.KindIdPBadResponse, err, "decode userinfo claims")
		}

		return &Claims{
			Subject:     info.Subject,
			Email:       raw.Email,
			DisplayName: raw.Name,
			Groups:      raw.Groups,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Claims), nil
}

// IsIssuer reports whether url belongs to this client's configured issuer
// (a prefix match against the issuer URL).
func (c *Client) IsIssuer(url string) bool {
	return strings.HasPrefix(url, c.issuer)
}
