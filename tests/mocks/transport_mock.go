package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSecureChannelClient is a mock implementation of transport.SecureChannelClient
type MockSecureChannelClient struct {
	mock.Mock
}

func (m *MockSecureChannelClient) Request(ctx context.Context, operation string, params map[string]string) ([]byte, error) {
	args := m.Called(ctx, operation, params)
	body, _ := args.Get(0).([]byte)
	return body, args.Error(1)
}
