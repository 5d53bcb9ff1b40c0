package constants

import "time"

const (
	// DefaultConfigPath is used when VPNCORE_CONFIG is not set.
	DefaultConfigPath = "configs/config.yaml"

	// ConfigPathEnv names the environment variable holding the config path.
	ConfigPathEnv = "VPNCORE_CONFIG"

	// DefaultRequestTimeout bounds a single HTTP attempt.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultMaxResponseBytes caps the size of a backend response body.
	DefaultMaxResponseBytes = 4 * 1024 * 1024 // 4MB

	// DefaultTokenTTL is the lifetime of a self-issued bearer token.
	DefaultTokenTTL = 30 * time.Second

	// DefaultTokenSafetyMargin triggers reissue before a token actually expires.
	DefaultTokenSafetyMargin = 5 * time.Second

	// DefaultMaxConcurrentCalls limits boundary calls running at once.
	DefaultMaxConcurrentCalls = 4

	// BuildKeySize is the required length of the build key in bytes.
	BuildKeySize = 32
)

// Logical operations served by the backend.
const (
	OperationListServers      = "list_servers"
	OperationGetConfiguration = "get_configuration"
)

// Response content types.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)
