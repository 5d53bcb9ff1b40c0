package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/pkg/encryption"
)

// Signer supplies the signing method and keys for tokens bound to a
// fingerprint digest.
type Signer interface {
	Method() jwt.SigningMethod
	SigningKey(digest string) (key any, headers map[string]any, err error)
	VerificationKey(digest string) (any, error)
}

// HMACSigner signs with HS256 using a key derived from the build key. The
// backend holds the same build key and derives the same secret.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner derives the HS256 secret from buildKey.
func NewHMACSigner(buildKey []byte) (*HMACSigner, error) {
	secret, err := encryption.DeriveKey(buildKey, constants.KeyLabelJWTHMAC, nil, 32)
	if err != nil {
		return nil, err
	}
	return &HMACSigner{secret: secret}, nil
}

func (s *HMACSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

func (s *HMACSigner) SigningKey(string) (any, map[string]any, error) {
	return s.secret, nil, nil
}

func (s *HMACSigner) VerificationKey(string) (any, error) {
	return s.secret, nil
}

// Ed25519Signer signs with a per-install Ed25519 key whose seed is derived
// from the build key salted with the fingerprint digest. The public key is
// published in the "kid" header so the backend can pin it per device.
type Ed25519Signer struct {
	buildKey []byte
}

// NewEd25519Signer returns a signer deriving per-install keys from buildKey.
func NewEd25519Signer(buildKey []byte) (*Ed25519Signer, error) {
	if len(buildKey) == 0 {
		return nil, fmt.Errorf("build key is required")
	}
	return &Ed25519Signer{buildKey: buildKey}, nil
}

func (s *Ed25519Signer) Method() jwt.SigningMethod {
	return jwt.SigningMethodEdDSA
}

func (s *Ed25519Signer) SigningKey(digest string) (any, map[string]any, error) {
	priv, err := s.privateKey(digest)
	if err != nil {
		return nil, nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return priv, map[string]any{"kid": base64.RawURLEncoding.EncodeToString(pub)}, nil
}

func (s *Ed25519Signer) VerificationKey(digest string) (any, error) {
	priv, err := s.privateKey(digest)
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

func (s *Ed25519Signer) privateKey(digest string) (ed25519.PrivateKey, error) {
	if digest == "" {
		return nil, fmt.Errorf("fingerprint digest is required")
	}
	seed, err := encryption.DeriveKey(s.buildKey, constants.KeyLabelJWTEd25519, []byte(digest), ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// NewSigner builds the signer named by method.
func NewSigner(method string, buildKey []byte) (Signer, error) {
	switch method {
	case "", constants.SigningMethodHS256:
		return NewHMACSigner(buildKey)
	case constants.SigningMethodEdDSA:
		return NewEd25519Signer(buildKey)
	default:
		return nil, fmt.Errorf("unsupported signing method %q", method)
	}
}
