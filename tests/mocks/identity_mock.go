package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/vpn-core/pkg/identity"
)

// MockPlatformSource is a mock implementation of identity.PlatformSource
type MockPlatformSource struct {
	mock.Mock
}

func (m *MockPlatformSource) Attributes(ctx context.Context) (identity.Attributes, error) {
	args := m.Called(ctx)
	return args.Get(0).(identity.Attributes), args.Error(1)
}

// MockFingerprintProvider is a mock implementation of identity.FingerprintProvider
type MockFingerprintProvider struct {
	mock.Mock
}

func (m *MockFingerprintProvider) Fingerprint(ctx context.Context) (identity.Fingerprint, error) {
	args := m.Called(ctx)
	fp, _ := args.Get(0).(identity.Fingerprint)
	return fp, args.Error(1)
}

func (m *MockFingerprintProvider) Reset() {
	m.Called()
}
