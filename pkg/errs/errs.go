package errs

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. Every error returned by an exported
// operation matches exactly one of these through errors.Is.
var (
	ErrFingerprintUnavailable = errors.New("device fingerprint unavailable")
	ErrCredentialIssuance     = errors.New("credential issuance failed")
	ErrEndpointUnknown        = errors.New("endpoint unknown")
	ErrConfigCorrupt          = errors.New("configuration corrupt")
	ErrNetwork                = errors.New("network error")
	ErrAuthRejected           = errors.New("authentication rejected")
	ErrNotFound               = errors.New("configuration not found")
	ErrTimeout                = errors.New("request timed out")
)

// Error attaches a kind and the failing operation to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// New wraps err with the given kind and operation name.
func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind error, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusError describes a non-success HTTP status returned by the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

var codes = []struct {
	kind error
	code string
}{
	// Order matters: a credential failure caused by a fingerprint failure
	// reports the root cause.
	{ErrFingerprintUnavailable, "FINGERPRINT_UNAVAILABLE"},
	{ErrCredentialIssuance, "CREDENTIAL_ISSUANCE_FAILED"},
	{ErrEndpointUnknown, "ENDPOINT_UNKNOWN"},
	{ErrConfigCorrupt, "CONFIG_CORRUPT"},
	{ErrTimeout, "TIMEOUT"},
	{ErrAuthRejected, "AUTH_REJECTED"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrNetwork, "NETWORK_ERROR"},
}

// Code returns a short stable identifier for err's kind, for logs and metrics.
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "UNKNOWN"
}
