package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/vpn-core/pkg/errs"
	"github.com/benmeehan/vpn-core/pkg/identity"
	"github.com/benmeehan/vpn-core/tests/mocks"
)

var testAttributes = identity.Attributes{
	HostID:          "4C4C4544-0042-3510-8052-B4C04F4E3732",
	OS:              "darwin",
	Platform:        "darwin",
	PlatformVersion: "15.1",
	KernelVersion:   "24.1.0",
	KernelArch:      "arm64",
}

func TestProvider_Fingerprint_Idempotent(t *testing.T) {
	source := new(mocks.MockPlatformSource)
	source.On("Attributes", mock.Anything).Return(testAttributes, nil).Once()

	p, err := identity.NewProvider(source, "com.example.vpn", "1.4.0", zerolog.Nop())
	require.NoError(t, err)

	first, err := p.Fingerprint(context.Background())
	require.NoError(t, err)
	second, err := p.Fingerprint(context.Background())
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)
	assert.Len(t, first.Digest(), 64)
	source.AssertExpectations(t)
}

func TestProvider_Fingerprint_ReturnsCopy(t *testing.T) {
	source := new(mocks.MockPlatformSource)
	source.On("Attributes", mock.Anything).Return(testAttributes, nil).Once()

	p, err := identity.NewProvider(source, "com.example.vpn", "1.4.0", zerolog.Nop())
	require.NoError(t, err)

	first, err := p.Fingerprint(context.Background())
	require.NoError(t, err)
	digest := first.Digest()
	first[0] ^= 0xff

	second, err := p.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, digest, second.Digest())
}

func TestProvider_Fingerprint_Reset(t *testing.T) {
	source := new(mocks.MockPlatformSource)
	source.On("Attributes", mock.Anything).Return(testAttributes, nil).Twice()

	p, err := identity.NewProvider(source, "com.example.vpn", "1.4.0", zerolog.Nop())
	require.NoError(t, err)

	first, err := p.Fingerprint(context.Background())
	require.NoError(t, err)
	p.Reset()
	second, err := p.Fingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	source.AssertExpectations(t)
}

func TestProvider_Fingerprint_VersionCanonical(t *testing.T) {
	digest := func(version string) string {
		source := new(mocks.MockPlatformSource)
		source.On("Attributes", mock.Anything).Return(testAttributes, nil)
		p, err := identity.NewProvider(source, "com.example.vpn", version, zerolog.Nop())
		require.NoError(t, err)
		fp, err := p.Fingerprint(context.Background())
		require.NoError(t, err)
		return fp.Digest()
	}

	assert.Equal(t, digest("1.2"), digest("1.2.0"))
	assert.NotEqual(t, digest("1.2.0"), digest("1.3.0"))
}

func TestProvider_Fingerprint_DependsOnDevice(t *testing.T) {
	other := testAttributes
	other.HostID = "00000000-0000-0000-0000-000000000001"

	a := new(mocks.MockPlatformSource)
	a.On("Attributes", mock.Anything).Return(testAttributes, nil)
	b := new(mocks.MockPlatformSource)
	b.On("Attributes", mock.Anything).Return(other, nil)

	pa, err := identity.NewProvider(a, "com.example.vpn", "1.0.0", zerolog.Nop())
	require.NoError(t, err)
	pb, err := identity.NewProvider(b, "com.example.vpn", "1.0.0", zerolog.Nop())
	require.NoError(t, err)

	fa, err := pa.Fingerprint(context.Background())
	require.NoError(t, err)
	fb, err := pb.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestProvider_Fingerprint_Unavailable(t *testing.T) {
	noHostID := testAttributes
	noHostID.HostID = ""
	noBuild := testAttributes
	noBuild.PlatformVersion = ""
	noBuild.KernelVersion = ""

	tests := []struct {
		name  string
		attrs identity.Attributes
		err   error
	}{
		{"source error", identity.Attributes{}, errors.New("sysctl failed")},
		{"missing host id", noHostID, nil},
		{"missing build id", noBuild, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := new(mocks.MockPlatformSource)
			source.On("Attributes", mock.Anything).Return(tt.attrs, tt.err)

			p, err := identity.NewProvider(source, "com.example.vpn", "1.0.0", zerolog.Nop())
			require.NoError(t, err)

			fp, err := p.Fingerprint(context.Background())
			assert.Nil(t, fp)
			assert.ErrorIs(t, err, errs.ErrFingerprintUnavailable)
		})
	}
}

func TestNewProvider_InvalidIdentity(t *testing.T) {
	_, err := identity.NewProvider(identity.HostSource{}, "", "1.0.0", zerolog.Nop())
	assert.Error(t, err)

	_, err = identity.NewProvider(identity.HostSource{}, "com.example.vpn", "not-a-version", zerolog.Nop())
	assert.Error(t, err)
}
