// Package keymanager holds the broker's RSA signing keypair and publishes it
// as a JWKS document (spec.md §4.1, component C1). Key generation is out of
// band: the manager only loads PEM-encoded key material from disk and fails
// startup if it is absent.
package keymanager

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
)

// RS256 is the only signing algorithm the key manager speaks.
const RS256 = "RS256"

// KeyPair is one RSA keypair the manager can sign with or publish.
type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// JWKS is a JSON Web Key Set document (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single JSON Web Key describing an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// LoadRSAPrivateKeyFromPEM loads a PKCS1 or PKCS8 RSA private key from PEM.
func LoadRSAPrivateKeyFromPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("keymanager: failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keymanager: failed to parse RSA private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keymanager: PEM key is not RSA")
	}
	return rsaKey, nil
}

// LoadRSAPublicKeyFromPEM loads a PKIX-encoded RSA public key from PEM.
func LoadRSAPublicKeyFromPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("keymanager: failed to decode PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keymanager: failed to parse RSA public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keymanager: PEM key is not RSA")
	}
	return rsaKey, nil
}

// DeriveKeyID computes a stable kid from the SHA-256 of the DER-encoded
// public key, per spec.md §4.1.
func DeriveKeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keymanager: failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ToJWK converts the keypair's public half into JWK form.
func (kp *KeyPair) ToJWK() JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.KeyID,
		Alg: RS256,
		N:   base64.RawURLEncoding.EncodeToString(kp.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(kp.PublicKey.E)).Bytes()),
	}
}

var _ crypto.Signer = (*rsa.PrivateKey)(nil)
