package keymanager

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"os"
)

// Manager holds the broker's active signing key plus any additional public
// keys that should be published in JWKS ahead of a future rotation (spec.md
// §4.1, §9). Exactly one key signs; all loaded keys are published.
type Manager struct {
	active *KeyPair
	extra  []KeyPair
}

// Load reads the broker's RSA private/public key PEM files from disk. If
// keyID is empty, one is derived from the public key. Loading fails the
// process (exit code 1, per spec.md §6) if either file is missing or
// unparsable — key generation is out of band.
func Load(privateKeyPath, publicKeyPath, keyID string) (*Manager, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keymanager: reading private key %s: %w", privateKeyPath, err)
	}
	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keymanager: reading public key %s: %w", publicKeyPath, err)
	}

	privateKey, err := LoadRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, err
	}
	publicKey, err := LoadRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, err
	}
	if privateKey.PublicKey.N.Cmp(publicKey.N) != 0 {
		return nil, fmt.Errorf("keymanager: private/public key mismatch for %s", privateKeyPath)
	}
	if privateKey.Size()*8 < 2048 {
		return nil, fmt.Errorf("keymanager: RSA key at %s is below the minimum 2048 bits", privateKeyPath)
	}

	if keyID == "" {
		keyID, err = DeriveKeyID(publicKey)
		if err != nil {
			return nil, err
		}
	}

	return &Manager{
		active: &KeyPair{KeyID: keyID, PrivateKey: privateKey, PublicKey: publicKey},
	}, nil
}

// WithExtraPublicKeys registers additional public keys (no private half) to
// publish in JWKS alongside the active signer, for rotation readiness.
func (m *Manager) WithExtraPublicKeys(keys ...KeyPair) *Manager {
	m.extra = append(m.extra, keys...)
	return m
}

// ActiveKeyID is the kid used to sign new broker JWTs.
func (m *Manager) ActiveKeyID() string {
	return m.active.KeyID
}

// Signer returns the crypto.Signer backing the active key, for callers
// (brokerjwt) that hand it to a JWT library rather than calling Sign directly.
func (m *Manager) Signer() crypto.Signer {
	return m.active.PrivateKey
}

// Sign produces a raw RSA-PKCS1v15/SHA-256 signature over the given bytes
// using the active key. Most callers use a JWT library against Signer()
// instead; Sign exists for components that need a bare signature.
func (m *Manager) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, m.active.PrivateKey, crypto.SHA256, digest[:])
}

// JWKS returns the JSON Web Key Set containing every loaded public key —
// the active signer plus any registered future keys (spec.md §4.1).
func (m *Manager) JWKS() JWKS {
	keys := make([]JWK, 0, 1+len(m.extra))
	keys = append(keys, m.active.ToJWK())
	for _, kp := range m.extra {
		keys = append(keys, kp.ToJWK())
	}
	return JWKS{Keys: keys}
}
