package server_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	"github.com/jrsteele09/bazel-auth-broker/idp"
	"github.com/jrsteele09/bazel-auth-broker/idp/nonce"
	"github.com/jrsteele09/bazel-auth-broker/idp/pkce"
	"github.com/jrsteele09/bazel-auth-broker/idp/state"
	"github.com/jrsteele09/bazel-auth-broker/internal/config"
	"github.com/jrsteele09/bazel-auth-broker/keymanager"
	"github.com/jrsteele09/bazel-auth-broker/orchestrator"
	"github.com/jrsteele09/bazel-auth-broker/orchestrator/orchestratorfakes"
	"github.com/jrsteele09/bazel-auth-broker/server"
	"github.com/jrsteele09/bazel-auth-broker/session"
	"github.com/jrsteele09/bazel-auth-broker/team"
	"github.com/jrsteele09/bazel-auth-broker/vaultclient"
	"github.com/stretchr/testify/require"
)

// stubConfig satisfies config.Config with fixed values, standing in for the
// env-var-backed implementation so server tests don't touch the process
// environment.
type stubConfig struct{ allowedOrigins config.AllowedOrigins }

func (stubConfig) GetBind() string                              { return ":0" }
func (stubConfig) GetAppName() string                            { return "bazel-auth-broker-test" }
func (stubConfig) GetEnv() string                                { return "TEST" }
func (stubConfig) GetBaseURL() string                            { return "https://broker.example" }
func (s stubConfig) GetAllowedOrigins() config.AllowedOrigins    { return s.allowedOrigins }
func (stubConfig) GetAllowedMethods() string                     { return "GET, POST" }
func (stubConfig) GetAllowedHeaders() string                     { return "Content-Type" }
func (stubConfig) GetIdPIssuerURL() string                       { return "https://idp.example" }
func (stubConfig) GetIdPClientID() string                        { return "client-id" }
func (stubConfig) GetIdPClientSecret() string                    { return "" }
func (stubConfig) GetIdPRedirectURI() string                     { return "https://broker.example/auth/callback" }
func (stubConfig) GetIdPScopes() []string                        { return []string{"openid", "profile", "email", "groups"} }
func (stubConfig) GetIdPAudience() string                        { return "" }
func (stubConfig) GetBrokerIssuer() string                       { return "bazel-auth-broker" }
func (stubConfig) GetBrokerJWTAudience() string                  { return "bazel-vault" }
func (stubConfig) GetBrokerJWTLifetime() time.Duration           { return 5 * time.Minute }
func (stubConfig) GetSessionTTL() time.Duration                  { return 10 * time.Minute }
func (stubConfig) GetExchangeTTL() time.Duration                 { return 5 * time.Minute }
func (stubConfig) GetSessionMax() int                            { return 10000 }
func (stubConfig) GetPrivateKeyPath() string                     { return "" }
func (stubConfig) GetPublicKeyPath() string                      { return "" }
func (stubConfig) GetKeyID() string                              { return "" }
func (stubConfig) GetVaultAddr() string                          { return "https://vault.example" }
func (stubConfig) GetVaultParentToken() string                   { return "root" }
func (stubConfig) GetVaultTimeout() time.Duration                { return 5 * time.Second }
func (stubConfig) GetVaultRetryBackoffs() []time.Duration        { return nil }
func (stubConfig) GetCookieHashKey() []byte                      { return bytes.Repeat([]byte{0x01}, 32) }
func (stubConfig) GetCookieBlockKey() []byte                     { return bytes.Repeat([]byte{0x02}, 16) }

func newTestConfig() stubConfig {
	return stubConfig{allowedOrigins: config.AllowedOrigins{"*": struct{}{}}}
}

type fakeVaultHealth struct{ reachable bool }

func (f fakeVaultHealth) Reachable(ctx context.Context) bool { return f.reachable }

func testTeamConfig() team.Config {
	return team.Config{
		GroupToTeam: map[string]string{
			"backend-developers": "backend-team",
			"mobile-developers":  "mobile-team",
		},
		Teams: map[string]team.Team{
			"backend-team": {JWTRole: "backend-team", TokenRole: "backend-team-token", TTLDefault: time.Hour, TTLMax: 4 * time.Hour, Uses: 1, Policies: []string{"base", "backend-team"}},
			"mobile-team":  {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefault: time.Hour, TTLMax: 4 * time.Hour, Uses: 1, Policies: []string{"base", "mobile-team"}},
		},
	}
}

func testKeyManager(t *testing.T) *keymanager.Manager {
	t.Helper()
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	privPath := filepath.Join(dir, "broker.key")
	pubPath := filepath.Join(dir, "broker.pub")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	mgr, err := keymanager.Load(privPath, pubPath, "")
	require.NoError(t, err)
	return mgr
}

// newTestServer wires a real orchestrator over a fake IdP/Vault, matching
// the orchestrator package's own test fixtures, and returns the resulting
// http.Handler along with a helper that simulates the fake IdP's callback
// state for a given group set.
func newTestServer(t *testing.T, groups []string) (http.Handler, func() string) {
	t.Helper()
	store := session.NewInMemoryStore(100)
	resolver := team.NewResolver(testTeamConfig())
	keys := testKeyManager(t)

	var lastState state.State
	idpFake := &orchestratorfakes.FakeIdPClient{
		BuildAuthRequestFunc: func(ctx context.Context) (*idp.AuthRequest, error) {
			st, err := state.Generate()
			require.NoError(t, err)
			n, err := nonce.Generate()
			require.NoError(t, err)
			verifier, err := pkce.Generate()
			require.NoError(t, err)
			lastState = st
			return &idp.AuthRequest{URL: "https://idp.example/authorize?state=" + st.String(), State: st, Nonce: n, PKCEVerifier: verifier}, nil
		},
		ExchangeCodeFunc: func(ctx context.Context, code string, verifier pkce.Code, n nonce.Nonce) (*idp.Claims, error) {
			return &idp.Claims{Subject: "user-1", Email: "alice@example.com", DisplayName: "Alice", Groups: groups}, nil
		},
	}
	vaultFake := &orchestratorfakes.FakeVault{
		AuthenticateAsTeamFunc: func(ctx context.Context, jwtRole, brokerJWT string) (*vaultclient.TeamIdentity, error) {
			return &vaultclient.TeamIdentity{ClientToken: "vault-auth-token", EntityID: "entity-" + jwtRole}, nil
		},
		CreateChildTokenFunc: func(ctx context.Context, parentAuthToken string, params vaultclient.ChildTokenParams) (*vaultclient.ChildToken, error) {
			return &vaultclient.ChildToken{Token: "s.childtoken", TTL: params.TTL, NumUses: params.NumUses, Policies: params.Policies, Metadata: params.Metadata}, nil
		},
	}

	orch := orchestrator.New(idpFake, store, resolver, brokerjwt.NewIssuer(keys), vaultFake, orchestrator.Config{
		BrokerIssuer: "bazel-auth-broker", BrokerJWTAudience: "bazel-vault", SessionTTL: time.Minute, ExchangeTTL: 5 * time.Minute,
	})

	cfg := newTestConfig()
	handler := server.New(cfg, orch, keys, fakeVaultHealth{reachable: true}, cfg.GetCookieHashKey(), cfg.GetCookieBlockKey())
	return handler, func() string { return lastState.String() }
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t, []string{"backend-developers"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, true, body["vault_reachable"])
}

func TestJWKS_ExposesActiveSigningKey(t *testing.T) {
	handler, _ := newTestServer(t, []string{"backend-developers"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc keymanager.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
	require.Equal(t, "RSA", doc.Keys[0].Kty)
}

func TestSingleTeamFlow_CLIStartCallbackExchange(t *testing.T) {
	handler, lastState := newTestServer(t, []string{"backend-developers"})

	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, httptest.NewRequest(http.MethodPost, "/cli/start", bytes.NewBufferString("{}")))
	require.Equal(t, http.StatusOK, startRec.Code)

	var start struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
		AuthURL   string `json:"auth_url"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))
	require.NotEmpty(t, start.SessionID)
	require.Equal(t, 600, start.ExpiresIn)

	callbackRec := httptest.NewRecorder()
	callbackReq := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code-1&state="+lastState(), nil)
	handler.ServeHTTP(callbackRec, callbackReq)
	require.Equal(t, http.StatusOK, callbackRec.Code)
	require.Contains(t, callbackRec.Body.String(), start.SessionID)

	exchangeBody, err := json.Marshal(map[string]string{"session_id": start.SessionID, "pipeline": "ci"})
	require.NoError(t, err)
	exchangeRec := httptest.NewRecorder()
	exchangeReq := httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(exchangeBody))
	exchangeReq.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(exchangeRec, exchangeReq)
	require.Equal(t, http.StatusOK, exchangeRec.Code)

	var result struct {
		Token         string            `json:"token"`
		Policies      []string          `json:"policies"`
		Metadata      map[string]string `json:"metadata"`
		UsesRemaining int               `json:"uses_remaining"`
	}
	require.NoError(t, json.Unmarshal(exchangeRec.Body.Bytes(), &result))
	require.Equal(t, "s.childtoken", result.Token)
	require.ElementsMatch(t, []string{"base", "backend-team"}, result.Policies)
	require.Equal(t, "backend-team", result.Metadata["team"])
	require.Equal(t, "ci", result.Metadata["pipeline"])
}

func TestMultiTeamFlow_RedirectsToSelectTeam(t *testing.T) {
	handler, lastState := newTestServer(t, []string{"backend-developers", "mobile-developers"})

	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, httptest.NewRequest(http.MethodPost, "/cli/start", bytes.NewBufferString("{}")))
	var start struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))

	callbackRec := httptest.NewRecorder()
	callbackReq := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code-1&state="+lastState(), nil)
	handler.ServeHTTP(callbackRec, callbackReq)
	require.Equal(t, http.StatusFound, callbackRec.Code)
	require.Contains(t, callbackRec.Header().Get("Location"), "/auth/select-team?session_id=")

	selectRec := httptest.NewRecorder()
	selectReq := httptest.NewRequest(http.MethodGet, callbackRec.Header().Get("Location"), nil)
	handler.ServeHTTP(selectRec, selectReq)
	require.Equal(t, http.StatusOK, selectRec.Code)
	require.Contains(t, selectRec.Body.String(), "mobile-team")
	require.Contains(t, selectRec.Body.String(), "backend-team")

	postBody, err := json.Marshal(map[string]string{"session_id": start.SessionID, "team": "mobile-team"})
	require.NoError(t, err)
	postRec := httptest.NewRecorder()
	postReq := httptest.NewRequest(http.MethodPost, "/auth/select-team", bytes.NewReader(postBody))
	postReq.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(postRec, postReq)
	require.Equal(t, http.StatusOK, postRec.Code)
	require.Contains(t, postRec.Body.String(), "mobile-team")
}

func TestCallback_TamperedStateRejected(t *testing.T) {
	handler, _ := newTestServer(t, []string{"backend-developers"})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/cli/start", bytes.NewBufferString("{}")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code-1&state=not-a-real-state", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_STATE", body["error"])
}

func TestExchange_DoubleUseRejected(t *testing.T) {
	handler, lastState := newTestServer(t, []string{"backend-developers"})

	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, httptest.NewRequest(http.MethodPost, "/cli/start", bytes.NewBufferString("{}")))
	var start struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code-1&state="+lastState(), nil))

	body, _ := json.Marshal(map[string]string{"session_id": start.SessionID})
	firstRec := httptest.NewRecorder()
	firstReq := httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(body))
	firstReq.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(firstRec, firstReq)
	require.Equal(t, http.StatusOK, firstRec.Code)

	secondRec := httptest.NewRecorder()
	secondReq := httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(body))
	secondReq.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(secondRec, secondReq)
	require.Equal(t, http.StatusConflict, secondRec.Code)

	var errBody map[string]any
	require.NoError(t, json.Unmarshal(secondRec.Body.Bytes(), &errBody))
	require.Equal(t, "SESSION_ALREADY_USED", errBody["error"])
}

func TestExchange_MetadataFieldTooLongRejected(t *testing.T) {
	handler, lastState := newTestServer(t, []string{"backend-developers"})

	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, httptest.NewRequest(http.MethodPost, "/cli/start", bytes.NewBufferString("{}")))
	var start struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code-1&state="+lastState(), nil))

	oversized := make([]byte, 300)
	for i := range oversized {
		oversized[i] = 'a'
	}
	body, _ := json.Marshal(map[string]string{"session_id": start.SessionID, "pipeline": string(oversized)})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
