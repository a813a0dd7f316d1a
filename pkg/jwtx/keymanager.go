package jwtx

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
)

// KeyManager owns the process-wide signing key and the matching verifier.
// It is built once at startup and never mutated afterwards.
type KeyManager struct {
	signer   Signer
	keys     *KeySet
	verifier *EdDSAVerifier
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Issuer is the issuer claim (iss) validated on every token.
	Issuer string

	// PrivateKeyPEM is a PKCS8 Ed25519 key. When empty an ephemeral key is
	// generated, which invalidates issued access tokens on restart.
	PrivateKeyPEM []byte

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// Now overrides the verifier clock; nil means time.Now.
	Now func() time.Time
}

// NewKeyManager loads or generates the signing key and wires the KeySet and
// verifier around it. The kid is derived from the public key so it is stable
// for a persisted key.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}

	pemKey := opts.PrivateKeyPEM
	if len(pemKey) == 0 {
		var err error
		pemKey, err = cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate ephemeral key: %w", err)
		}
	}

	// Parse once with a placeholder kid to learn the public key.
	probe, err := NewSignerEdDSA("", pemKey)
	if err != nil {
		return nil, err
	}
	signer, err := NewSignerEdDSA(keyID(probe), pemKey)
	if err != nil {
		return nil, err
	}

	keys := NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}

	return &KeyManager{
		signer: signer,
		keys:   keys,
		verifier: NewVerifierEdDSA(keys, VerifyOptions{
			Issuer: opts.Issuer,
			Leeway: opts.Leeway,
			Now:    opts.Now,
		}),
	}, nil
}

// Signer returns the active signer.
func (km *KeyManager) Signer() Signer { return km.signer }

// Verifier returns the verifier bound to this manager's KeySet.
func (km *KeyManager) Verifier() Verifier { return km.verifier }

// KeySet returns the public keys for JWKS publishing.
func (km *KeyManager) KeySet() *KeySet { return km.keys }

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool { return km.keys.IsReady() }

// keyID is the base64url SHA-256 thumbprint prefix of the public key.
func keyID(s *EdDSASigner) string {
	sum := sha256.Sum256(s.pub)
	return "gk-" + base64.RawURLEncoding.EncodeToString(sum[:12])
}
