// Package orchestratorfakes provides hand-rolled test doubles for the
// orchestrator's downstream interfaces, in the teacher's repo pattern of a
// sibling fakes package per interface-owning package.
package orchestratorfakes

import (
	"context"

	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	"github.com/jrsteele09/bazel-auth-broker/idp"
	"github.com/jrsteele09/bazel-auth-broker/idp/nonce"
	"github.com/jrsteele09/bazel-auth-broker/idp/pkce"
	"github.com/jrsteele09/bazel-auth-broker/vaultclient"
)

// FakeIdPClient implements orchestrator.IdPClient.
type FakeIdPClient struct {
	BuildAuthRequestFunc func(ctx context.Context) (*idp.AuthRequest, error)
	ExchangeCodeFunc     func(ctx context.Context, code string, verifier pkce.Code, n nonce.Nonce) (*idp.Claims, error)
}

func (f *FakeIdPClient) BuildAuthRequest(ctx context.Context) (*idp.AuthRequest, error) {
	return f.BuildAuthRequestFunc(ctx)
}

func (f *FakeIdPClient) ExchangeCode(ctx context.Context, code string, verifier pkce.Code, n nonce.Nonce) (*idp.Claims, error) {
	return f.ExchangeCodeFunc(ctx, code, verifier, n)
}

// FakeVault implements orchestrator.VaultAuthenticator.
type FakeVault struct {
	AuthenticateAsTeamFunc func(ctx context.Context, jwtRole, brokerJWT string) (*vaultclient.TeamIdentity, error)
	CreateChildTokenFunc   func(ctx context.Context, parentAuthToken string, params vaultclient.ChildTokenParams) (*vaultclient.ChildToken, error)
}

func (f *FakeVault) AuthenticateAsTeam(ctx context.Context, jwtRole, brokerJWT string) (*vaultclient.TeamIdentity, error) {
	return f.AuthenticateAsTeamFunc(ctx, jwtRole, brokerJWT)
}

func (f *FakeVault) CreateChildToken(ctx context.Context, parentAuthToken string, params vaultclient.ChildTokenParams) (*vaultclient.ChildToken, error) {
	return f.CreateChildTokenFunc(ctx, parentAuthToken, params)
}

// FakeIssuer implements orchestrator.JWTIssuer.
type FakeIssuer struct {
	IssueFunc func(claims brokerjwt.Claims) (string, error)
}

func (f *FakeIssuer) Issue(claims brokerjwt.Claims) (string, error) {
	if f.IssueFunc != nil {
		return f.IssueFunc(claims)
	}
	return "fake.jwt.token", nil
}
