package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/pkg/errs"
	"github.com/benmeehan/vpn-core/pkg/identity"
)

// CredentialIssuer defines methods to obtain bearer tokens bound to the device.
type CredentialIssuer interface {
	Issue(ctx context.Context) (AuthToken, error)
	Current(ctx context.Context) (AuthToken, error)
	Invalidate(raw string)
}

// AuthToken is an issued bearer token. It is a value type: callers get
// copies and nothing mutates it after issuance.
type AuthToken struct {
	Raw               string
	ID                string
	FingerprintDigest string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Signature         string
}

// IsValid reports whether the token is usable at now.
func (t AuthToken) IsValid(now time.Time) bool {
	return IsValid(t, now)
}

// IsValid reports whether token is usable at now: issued no later than now
// and strictly before its expiry, matching the backend's exp check.
func IsValid(token AuthToken, now time.Time) bool {
	if token.Raw == "" {
		return false
	}
	return !now.Before(token.IssuedAt) && now.Before(token.ExpiresAt)
}

// Claims carried by every token.
type Claims struct {
	AppVersion string `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// Options configures an Issuer.
type Options struct {
	TTL          time.Duration
	SafetyMargin time.Duration
	Issuer       string
	Audience     string
	AppVersion   string
	Clock        func() time.Time
	OnIssue      func(AuthToken)
}

// Issuer self-issues signed tokens from the device fingerprint and keeps the
// current one cached. The cache is guarded by mu so concurrent callers see
// either the previous token or the fully built replacement.
type Issuer struct {
	fingerprints identity.FingerprintProvider
	signer       Signer
	opts         Options
	logger       zerolog.Logger

	mu      sync.Mutex
	current AuthToken
}

// NewIssuer initializes a new Issuer instance.
func NewIssuer(fingerprints identity.FingerprintProvider, signer Signer, opts Options, logger zerolog.Logger) (*Issuer, error) {
	if opts.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if opts.SafetyMargin < 0 || opts.SafetyMargin >= opts.TTL {
		return nil, fmt.Errorf("token safety margin %s must be within [0, %s)", opts.SafetyMargin, opts.TTL)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Issuer{
		fingerprints: fingerprints,
		signer:       signer,
		opts:         opts,
		logger:       logger,
	}, nil
}

// Issue mints a new token from the current fingerprint. It does not touch
// the cached token.
func (i *Issuer) Issue(ctx context.Context) (AuthToken, error) {
	fp, err := i.fingerprints.Fingerprint(ctx)
	if err != nil {
		return AuthToken{}, errs.New(errs.ErrCredentialIssuance, "jwt.Issue", err)
	}
	digest := fp.Digest()

	key, headers, err := i.signer.SigningKey(digest)
	if err != nil {
		return AuthToken{}, errs.New(errs.ErrCredentialIssuance, "jwt.Issue", err)
	}

	now := i.opts.Clock().Truncate(time.Second)
	claims := Claims{
		AppVersion: i.opts.AppVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   digest,
			Issuer:    i.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.TTL)),
		},
	}
	if i.opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.opts.Audience}
	}

	token := jwt.NewWithClaims(i.signer.Method(), claims)
	for k, v := range headers {
		token.Header[k] = v
	}

	raw, err := token.SignedString(key)
	if err != nil {
		return AuthToken{}, errs.New(errs.ErrCredentialIssuance, "jwt.Issue", fmt.Errorf("failed to sign token: %w", err))
	}

	issued := AuthToken{
		Raw:               raw,
		ID:                claims.ID,
		FingerprintDigest: digest,
		IssuedAt:          now,
		ExpiresAt:         now.Add(i.opts.TTL),
		Signature:         raw[strings.LastIndexByte(raw, '.')+1:],
	}

	i.logger.Debug().Str("jti", issued.ID).Time("expires_at", issued.ExpiresAt).Msg("Issued bearer token")
	if i.opts.OnIssue != nil {
		i.opts.OnIssue(issued)
	}
	return issued, nil
}

// Current returns the cached token if it stays valid for at least the safety
// margin, otherwise it reissues and caches the new token.
func (i *Issuer) Current(ctx context.Context) (AuthToken, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if IsValid(i.current, i.opts.Clock().Add(i.opts.SafetyMargin)) {
		return i.current, nil
	}

	token, err := i.Issue(ctx)
	if err != nil {
		return AuthToken{}, err
	}
	i.current = token
	return token, nil
}

// Invalidate drops the cached token if it is still raw. A token already
// replaced by a concurrent reissue is left alone.
func (i *Issuer) Invalidate(raw string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.current.Raw == raw {
		i.logger.Info().Str("jti", i.current.ID).Msg("Bearer token rejected, forcing reissue")
		i.current = AuthToken{}
	}
}

// Verify checks the signature, issuer, audience and expiry of raw the way
// the backend does.
func (i *Issuer) Verify(raw string) (AuthToken, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.signer.Method().Alg()}),
		jwt.WithTimeFunc(i.opts.Clock),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.opts.Issuer))
	}
	if i.opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(i.opts.Audience))
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		return i.signer.VerificationKey(claims.Subject)
	}, parserOpts...)
	if err != nil {
		return AuthToken{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.IssuedAt == nil {
		return AuthToken{}, errors.New("invalid token claims")
	}

	return AuthToken{
		Raw:               raw,
		ID:                claims.ID,
		FingerprintDigest: claims.Subject,
		IssuedAt:          claims.IssuedAt.Time,
		ExpiresAt:         claims.ExpiresAt.Time,
		Signature:         raw[strings.LastIndexByte(raw, '.')+1:],
	}, nil
}
