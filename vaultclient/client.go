// Package vaultclient wraps the HashiCorp Vault client the broker uses to
// exchange a broker JWT for a team-scoped Vault identity and mint bounded
// child tokens (spec.md §4.6, component C6).
package vaultclient

import (
	"context"
	"time"

	"github.com/hashicorp/vault/api"
	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/rs/zerolog/log"
)

// Config carries everything needed to stand up a Client.
type Config struct {
	Addr          string
	ParentToken   string
	Timeout       time.Duration
	RetryBackoffs []time.Duration
}

// Client is the broker's Vault client. AuthenticateAsTeam uses the JWT auth
// method with no privileged token attached; CreateChildToken mints under a
// per-request clone authenticated with the caller-supplied parent auth
// token — c.raw carries the broker's own service token (ParentToken) and is
// only ever used directly for the /health check.
type Client struct {
	raw           *api.Client
	retryBackoffs []time.Duration
}

// New builds a Client against addr, authenticated as the broker's own
// service identity (parentToken).
func New(cfg Config) (*Client, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Addr
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	// Retries are handled explicitly by withRetry so the broker can classify
	// and report failures per spec.md §7; the underlying client should not
	// also retry silently underneath that.
	apiCfg.MaxRetries = 0

	raw, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindVaultUnreachable, err, "build vault client")
	}
	if cfg.ParentToken != "" {
		raw.SetToken(cfg.ParentToken)
	}

	backoffs := cfg.RetryBackoffs
	if len(backoffs) == 0 {
		backoffs = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}
	}

	return &Client{raw: raw, retryBackoffs: backoffs}, nil
}

// TeamIdentity is the result of authenticating as a team via the JWT auth
// method: a Vault token bound to a stable entity/alias for that team
// (spec.md §4.6 identity entities/aliases).
type TeamIdentity struct {
	ClientToken   string
	Accessor      string
	EntityID      string
	LeaseDuration int
}

// AuthenticateAsTeam logs in to Vault's JWT auth method using the broker's
// own signed JWT, whose sub claim is the team name. Vault's JWT auth
// backend maps that fixed sub onto a stable entity alias, so repeated logins
// for the same team always land on the same Vault identity.
func (c *Client) AuthenticateAsTeam(ctx context.Context, jwtRole string, brokerJWT string) (*TeamIdentity, error) {
	payload := map[string]interface{}{
		"role": jwtRole,
		"jwt":  brokerJWT,
	}

	loginClient, err := c.raw.Clone()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindVaultUnreachable, err, "clone vault client for jwt login")
	}
	loginClient.ClearToken()

	secret, err := c.withRetry(ctx, "auth/jwt/login", func() (*api.Secret, error) {
		return loginClient.Logical().WriteWithContext(ctx, "auth/jwt/login", payload)
	})
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, brokererrors.New(brokererrors.KindVaultAuthRejected, "vault jwt login returned no auth block")
	}

	return &TeamIdentity{
		ClientToken:   secret.Auth.ClientToken,
		Accessor:      secret.Auth.Accessor,
		EntityID:      secret.Auth.EntityID,
		LeaseDuration: secret.Auth.LeaseDuration,
	}, nil
}

// ChildTokenParams bounds a minted child token (spec.md §4.6: TTL and use
// count are always clamped to the team's configured maximums before this
// call is made, never trusted from caller input directly).
type ChildTokenParams struct {
	TokenRole string
	TTL       time.Duration
	NumUses   int
	Policies  []string
	Metadata  map[string]string
}

// ChildToken is the minted, single- or few-use Vault token handed back to
// the CLI/CI caller.
type ChildToken struct {
	Token     string
	Accessor  string
	TTL       time.Duration
	NumUses   int
	Renewable bool
	Policies  []string
	Metadata  map[string]string
}

// CreateChildToken mints a bounded child token under tokenRole, authenticating
// the create call with parentAuthToken — the per-session Vault token returned
// by AuthenticateAsTeam's step 1 login (spec.md §4.6 step 2: "POSTs to
// auth/token/create/<team_token_role> using the parent auth token"). The
// child inherits its Vault identity entity from whichever token authenticates
// this call, so minting under the team's own login token — not the broker's
// shared service token — is what binds the child to the stable per-team
// entity (spec.md §8 scenario 6). parentAuthToken is used for this one
// request and discarded by the caller afterward (spec.md §4.6, invariant:
// "Vault parent auth token from step 1 ... is request-scoped and never
// shared across sessions").
func (c *Client) CreateChildToken(ctx context.Context, parentAuthToken string, params ChildTokenParams) (*ChildToken, error) {
	requestClient, err := c.raw.Clone()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindVaultUnreachable, err, "clone vault client for child token request")
	}
	requestClient.SetToken(parentAuthToken)

	payload := map[string]interface{}{
		"ttl":      params.TTL.String(),
		"num_uses": params.NumUses,
	}
	if len(params.Policies) > 0 {
		payload["policies"] = params.Policies
	}
	if len(params.Metadata) > 0 {
		payload["meta"] = params.Metadata
	}

	path := "auth/token/create/" + params.TokenRole
	secret, err := c.withRetry(ctx, path, func() (*api.Secret, error) {
		return requestClient.Logical().WriteWithContext(ctx, path, payload)
	})
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, brokererrors.New(brokererrors.KindVaultAuthRejected, "vault token create returned no auth block")
	}

	policies := secret.Auth.Policies
	if len(policies) == 0 {
		policies = params.Policies
	}
	metadata := secret.Auth.Metadata
	if len(metadata) == 0 {
		metadata = params.Metadata
	}

	return &ChildToken{
		Token:     secret.Auth.ClientToken,
		Accessor:  secret.Auth.Accessor,
		TTL:       time.Duration(secret.Auth.LeaseDuration) * time.Second,
		NumUses:   params.NumUses,
		Renewable: secret.Auth.Renewable,
		Policies:  policies,
		Metadata:  metadata,
	}, nil
}

// Reachable reports whether Vault answers a basic health check, for the
// broker's own /health endpoint (spec.md §6).
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.raw.Sys().HealthWithContext(ctx)
	return err == nil
}

// withRetry runs op, retrying only on classified failures the taxonomy
// marks retryable (transport failures and Vault 5xx), backing off per
// c.retryBackoffs between attempts: one initial attempt plus one retry per
// backoff entry, so the default 250ms/1s/4s schedule allows 4 attempts.
func (c *Client) withRetry(ctx context.Context, op string, fn func() (*api.Secret, error)) (*api.Secret, error) {
	var lastErr error
	attempts := len(c.retryBackoffs) + 1

	for attempt := 0; attempt < attempts; attempt++ {
		secret, err := fn()
		if err == nil {
			return secret, nil
		}

		classified := classify(op, err)
		lastErr = classified

		var be *brokererrors.Error
		if !brokererrors.As(classified, &be) || !be.Retryable() {
			return nil, classified
		}
		if attempt == attempts-1 {
			break
		}

		log.Warn().Str("op", op).Int("attempt", attempt+1).Err(err).Msg("retrying vault call")

		select {
		case <-ctx.Done():
			return nil, brokererrors.Wrap(brokererrors.KindVaultUnreachable, ctx.Err(), op)
		case <-time.After(c.retryBackoffs[attempt]):
		}
	}

	return nil, lastErr
}
