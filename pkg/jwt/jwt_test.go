package jwt_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/pkg/errs"
	"github.com/benmeehan/vpn-core/pkg/identity"
	"github.com/benmeehan/vpn-core/pkg/jwt"
	"github.com/benmeehan/vpn-core/tests/mocks"
)

var (
	testBuildKey    = []byte("0123456789abcdef0123456789abcdef")
	testFingerprint = identity.Fingerprint(strings.Repeat("f", 32))
)

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestIssuer(t *testing.T, method string, clock *fakeClock) (*jwt.Issuer, *mocks.MockFingerprintProvider) {
	t.Helper()

	fingerprints := new(mocks.MockFingerprintProvider)
	fingerprints.On("Fingerprint", mock.Anything).Return(testFingerprint, nil)

	signer, err := jwt.NewSigner(method, testBuildKey)
	require.NoError(t, err)

	issuer, err := jwt.NewIssuer(fingerprints, signer, jwt.Options{
		TTL:          30 * time.Second,
		SafetyMargin: 5 * time.Second,
		Issuer:       "vpncore",
		Audience:     "vpn-api",
		AppVersion:   "1.0.0",
		Clock:        clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	return issuer, fingerprints
}

func TestIsValid_Window(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer, _ := newTestIssuer(t, constants.SigningMethodHS256, clock)

	issuedAt := clock.Now()
	token, err := issuer.Issue(context.Background())
	require.NoError(t, err)

	assert.True(t, jwt.IsValid(token, issuedAt))
	assert.True(t, token.IsValid(issuedAt.Add(29*time.Second)))
	assert.False(t, jwt.IsValid(token, issuedAt.Add(30*time.Second+time.Second)))
	assert.False(t, jwt.IsValid(token, issuedAt.Add(-time.Second)))
	assert.False(t, jwt.IsValid(jwt.AuthToken{}, issuedAt))
}

func TestIssuer_Issue_Claims(t *testing.T) {
	for _, method := range []string{constants.SigningMethodHS256, constants.SigningMethodEdDSA} {
		t.Run(method, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			issuer, _ := newTestIssuer(t, method, clock)

			token, err := issuer.Issue(context.Background())
			require.NoError(t, err)

			assert.Equal(t, testFingerprint.Digest(), token.FingerprintDigest)
			assert.NotEmpty(t, token.ID)
			assert.Equal(t, 30*time.Second, token.ExpiresAt.Sub(token.IssuedAt))
			assert.True(t, strings.HasSuffix(token.Raw, "."+token.Signature))

			verified, err := issuer.Verify(token.Raw)
			require.NoError(t, err)
			assert.Equal(t, token.ID, verified.ID)
			assert.Equal(t, token.FingerprintDigest, verified.FingerprintDigest)
			assert.True(t, token.ExpiresAt.Equal(verified.ExpiresAt))
		})
	}
}

func TestIssuer_Verify_Rejects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer, _ := newTestIssuer(t, constants.SigningMethodHS256, clock)

	token, err := issuer.Issue(context.Background())
	require.NoError(t, err)

	another, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	forged := strings.TrimSuffix(token.Raw, token.Signature) + another.Signature
	_, err = issuer.Verify(forged)
	assert.Error(t, err, "signature from another token")

	other, _ := newTestIssuer(t, constants.SigningMethodEdDSA, clock)
	_, err = other.Verify(token.Raw)
	assert.Error(t, err, "wrong signing method")

	clock.Advance(31 * time.Second)
	_, err = issuer.Verify(token.Raw)
	assert.Error(t, err, "expired")
}

func TestIssuer_Current_CachesUntilMargin(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var issued int
	fingerprints := new(mocks.MockFingerprintProvider)
	fingerprints.On("Fingerprint", mock.Anything).Return(testFingerprint, nil)
	signer, err := jwt.NewHMACSigner(testBuildKey)
	require.NoError(t, err)
	issuer, err := jwt.NewIssuer(fingerprints, signer, jwt.Options{
		TTL:          30 * time.Second,
		SafetyMargin: 5 * time.Second,
		Clock:        clock.Now,
		OnIssue:      func(jwt.AuthToken) { issued++ },
	}, zerolog.Nop())
	require.NoError(t, err)

	first, err := issuer.Current(context.Background())
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	second, err := issuer.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 26s in: only 4s left, inside the 5s safety margin.
	clock.Advance(6 * time.Second)
	third, err := issuer.Current(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Raw, third.Raw)
	assert.Equal(t, 2, issued)
}

func TestIssuer_Invalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer, _ := newTestIssuer(t, constants.SigningMethodHS256, clock)

	first, err := issuer.Current(context.Background())
	require.NoError(t, err)

	issuer.Invalidate("not-the-current-token")
	same, err := issuer.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Raw, same.Raw)

	issuer.Invalidate(first.Raw)
	fresh, err := issuer.Current(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Raw, fresh.Raw)
}

func TestIssuer_Current_FingerprintFailure(t *testing.T) {
	fingerprints := new(mocks.MockFingerprintProvider)
	fingerprints.On("Fingerprint", mock.Anything).
		Return(nil, errs.New(errs.ErrFingerprintUnavailable, "identity.Fingerprint", errors.New("no uuid")))
	signer, err := jwt.NewHMACSigner(testBuildKey)
	require.NoError(t, err)
	issuer, err := jwt.NewIssuer(fingerprints, signer, jwt.Options{TTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	_, err = issuer.Current(context.Background())
	assert.ErrorIs(t, err, errs.ErrCredentialIssuance)
	assert.ErrorIs(t, err, errs.ErrFingerprintUnavailable)
	assert.Equal(t, "FINGERPRINT_UNAVAILABLE", errs.Code(err))
}

func TestIssuer_Current_Concurrent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer, _ := newTestIssuer(t, constants.SigningMethodHS256, clock)

	const workers = 32
	tokens := make([]jwt.AuthToken, workers)
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			token, err := issuer.Current(context.Background())
			assert.NoError(t, err)
			tokens[n] = token
		}(n)
	}
	wg.Wait()

	for _, token := range tokens {
		assert.Equal(t, tokens[0].Raw, token.Raw)
		_, err := issuer.Verify(token.Raw)
		assert.NoError(t, err)
	}
}

func TestNewIssuer_InvalidOptions(t *testing.T) {
	signer, err := jwt.NewHMACSigner(testBuildKey)
	require.NoError(t, err)

	_, err = jwt.NewIssuer(nil, signer, jwt.Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = jwt.NewIssuer(nil, signer, jwt.Options{TTL: time.Second, SafetyMargin: time.Second}, zerolog.Nop())
	assert.Error(t, err)

	_, err = jwt.NewSigner("RS512", testBuildKey)
	assert.Error(t, err)
}
