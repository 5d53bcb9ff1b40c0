package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_WrapsKindAndCause(t *testing.T) {
	cause := &StatusError{Code: 404, Message: "server not found"}
	err := New(ErrNotFound, "services.GetConfiguration", cause)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrNetwork))

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 404, statusErr.Code)
	assert.Equal(t, "services.GetConfiguration: configuration not found: unexpected status 404: server not found", err.Error())
}

func TestError_Nested(t *testing.T) {
	inner := Newf(ErrFingerprintUnavailable, "identity.Fingerprint", "platform UUID is empty")
	err := fmt.Errorf("request: %w", New(ErrCredentialIssuance, "jwt.Issue", inner))

	assert.True(t, errors.Is(err, ErrCredentialIssuance))
	assert.True(t, errors.Is(err, ErrFingerprintUnavailable))
	assert.Equal(t, "FINGERPRINT_UNAVAILABLE", Code(err))
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "OK"},
		{New(ErrTimeout, "", context.DeadlineExceeded), "TIMEOUT"},
		{New(ErrCredentialIssuance, "", ErrAuthRejected), "CREDENTIAL_ISSUANCE_FAILED"},
		{New(ErrEndpointUnknown, "", nil), "ENDPOINT_UNKNOWN"},
		{New(ErrConfigCorrupt, "", nil), "CONFIG_CORRUPT"},
		{New(ErrNetwork, "", &StatusError{Code: 500}), "NETWORK_ERROR"},
		{errors.New("other"), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}

func TestStatusError_Message(t *testing.T) {
	assert.Equal(t, "unexpected status 502", (&StatusError{Code: 502}).Error())
}
