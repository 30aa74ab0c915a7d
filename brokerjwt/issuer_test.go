package brokerjwt_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	"github.com/jrsteele09/bazel-auth-broker/keymanager"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *keymanager.Manager {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	privPath := filepath.Join(dir, "broker.key")
	pubPath := filepath.Join(dir, "broker.pub")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	mgr, err := keymanager.Load(privPath, pubPath, "test-kid")
	require.NoError(t, err)
	return mgr
}

func TestIssue_SubjectIsSelectedTeam(t *testing.T) {
	mgr := newTestManager(t)
	issuer := brokerjwt.NewIssuer(mgr)

	raw, err := issuer.Issue(brokerjwt.Claims{
		Issuer:      "bazel-auth-broker",
		Audience:    "bazel-vault",
		Team:        "backend-team",
		UserEmail:   "alice@example.com",
		UserSubject: "u1",
		Groups:      []string{"backend-developers", "mobile-developers"},
	})
	require.NoError(t, err)

	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		return mgr.Signer().Public(), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, "backend-team", claims["sub"])
	require.Equal(t, "test-kid", token.Header["kid"])
}

func TestIssue_RespectsLifetime(t *testing.T) {
	mgr := newTestManager(t)
	issuer := brokerjwt.NewIssuer(mgr)

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	brokerjwt.NowFunc = func() time.Time { return fixed }
	defer func() { brokerjwt.NowFunc = time.Now }()

	raw, err := issuer.Issue(brokerjwt.Claims{Team: "mobile-team", Lifetime: 5 * time.Minute})
	require.NoError(t, err)

	token, _ := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		return mgr.Signer().Public(), nil
	})
	claims := token.Claims.(jwt.MapClaims)
	require.InDelta(t, fixed.Add(5*time.Minute).Unix(), claims["exp"], 1)
}
