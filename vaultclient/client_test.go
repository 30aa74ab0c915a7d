package vaultclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/jrsteele09/bazel-auth-broker/vaultclient"
	"github.com/stretchr/testify/require"
)

func newFakeVault(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticateAsTeam_ReturnsEntityBoundToken(t *testing.T) {
	srv := newFakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/jwt/login", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{
				"client_token":   "s.childtoken",
				"accessor":       "acc-1",
				"entity_id":      "entity-backend-team",
				"lease_duration": 3600,
			},
		})
	})

	client, err := vaultclient.New(vaultclient.Config{Addr: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	identity, err := client.AuthenticateAsTeam(context.Background(), "backend-team", "signed.jwt.token")
	require.NoError(t, err)
	require.Equal(t, "entity-backend-team", identity.EntityID)
	require.Equal(t, "s.childtoken", identity.ClientToken)
}

func TestAuthenticateAsTeam_ClassifiesPermissionDenied(t *testing.T) {
	srv := newFakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"errors": []string{"permission denied"}})
	})

	client, err := vaultclient.New(vaultclient.Config{Addr: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = client.AuthenticateAsTeam(context.Background(), "backend-team", "signed.jwt.token")
	require.Error(t, err)
	require.True(t, brokererrors.Is(err, brokererrors.KindVaultPolicyDenied))
}

func TestCreateChildToken_MintsBoundedToken(t *testing.T) {
	srv := newFakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/token/create/backend-team-token", r.URL.Path)
		require.Equal(t, "s.teamlogintoken", r.Header.Get("X-Vault-Token"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotContains(t, body, "entity_id")
		json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{
				"client_token":   "s.mintedtoken",
				"accessor":       "acc-2",
				"lease_duration": 1800,
				"renewable":      false,
			},
		})
	})

	client, err := vaultclient.New(vaultclient.Config{Addr: srv.URL, Timeout: 2 * time.Second, ParentToken: "s.brokerservicetoken"})
	require.NoError(t, err)

	token, err := client.CreateChildToken(context.Background(), "s.teamlogintoken", vaultclient.ChildTokenParams{
		TokenRole: "backend-team-token",
		TTL:       30 * time.Minute,
		NumUses:   1,
	})
	require.NoError(t, err)
	require.Equal(t, "s.mintedtoken", token.Token)
	require.Equal(t, 1, token.NumUses)
}

func TestCalls_RetryOnServerError(t *testing.T) {
	attempts := 0
	srv := newFakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"errors": []string{"temporarily unavailable"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{"client_token": "s.retried", "lease_duration": 60},
		})
	})

	client, err := vaultclient.New(vaultclient.Config{
		Addr: srv.URL, Timeout: 2 * time.Second,
		RetryBackoffs: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond},
	})
	require.NoError(t, err)

	identity, err := client.AuthenticateAsTeam(context.Background(), "backend-team", "signed.jwt.token")
	require.NoError(t, err)
	require.Equal(t, "s.retried", identity.ClientToken)
	require.Equal(t, 2, attempts)
}
