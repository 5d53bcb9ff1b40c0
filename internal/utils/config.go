package utils

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	API struct {
		BaseURL          string        `yaml:"base_url"`           // Backend base URL, endpoint paths are appended to it
		Timeout          time.Duration `yaml:"timeout"`            // Timeout for a single HTTP attempt
		MaxResponseBytes int64         `yaml:"max_response_bytes"` // Maximum accepted response body size
		UserAgent        string        `yaml:"user_agent"`         // User-Agent header, defaults to vpncore/<version>
	} `yaml:"api"`

	Identity struct {
		BundleID   string `yaml:"bundle_id"`   // Application bundle identifier mixed into the fingerprint
		AppVersion string `yaml:"app_version"` // Application version mixed into the fingerprint
	} `yaml:"identity"`

	Security struct {
		BuildKeyFile      string        `yaml:"build_key_file"`      // Path to the build key when not linked in
		EndpointTableFile string        `yaml:"endpoint_table_file"` // Path to the sealed endpoint table
		SigningMethod     string        `yaml:"signing_method"`      // HS256 or EdDSA
		TokenTTL          time.Duration `yaml:"token_ttl"`           // Lifetime of issued bearer tokens
		TokenSafetyMargin time.Duration `yaml:"token_safety_margin"` // Reissue this long before expiry
		Issuer            string        `yaml:"issuer"`              // Token iss claim
		Audience          string        `yaml:"audience"`            // Token aud claim
	} `yaml:"security"`

	Runtime struct {
		MaxConcurrentCalls int `yaml:"max_concurrent_calls"` // Boundary calls executing at once
	} `yaml:"runtime"`

	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Console output instead of JSON
	} `yaml:"log"`
}

// ConfigPath returns the config file path from VPNCORE_CONFIG or the default.
func ConfigPath() string {
	if path := os.Getenv(constants.ConfigPathEnv); path != "" {
		return path
	}
	return constants.DefaultConfigPath
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = constants.DefaultRequestTimeout
	}
	if c.API.MaxResponseBytes == 0 {
		c.API.MaxResponseBytes = constants.DefaultMaxResponseBytes
	}
	if c.Identity.AppVersion == "" {
		c.Identity.AppVersion = constants.Version
	}
	if c.Security.SigningMethod == "" {
		c.Security.SigningMethod = constants.SigningMethodHS256
	}
	if c.Security.TokenTTL == 0 {
		c.Security.TokenTTL = constants.DefaultTokenTTL
	}
	if c.Security.TokenSafetyMargin == 0 {
		c.Security.TokenSafetyMargin = constants.DefaultTokenSafetyMargin
	}
	if c.Runtime.MaxConcurrentCalls == 0 {
		c.Runtime.MaxConcurrentCalls = constants.DefaultMaxConcurrentCalls
	}
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	var problems []error

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		problems = append(problems, fmt.Errorf("api.base_url %q must be an absolute http(s) URL", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		problems = append(problems, errors.New("api.timeout must not be negative"))
	}
	if c.API.MaxResponseBytes < 0 {
		problems = append(problems, errors.New("api.max_response_bytes must not be negative"))
	}
	if c.Identity.BundleID == "" {
		problems = append(problems, errors.New("identity.bundle_id is required"))
	}
	if _, err := semver.NewVersion(c.Identity.AppVersion); err != nil {
		problems = append(problems, fmt.Errorf("identity.app_version %q is not a semantic version", c.Identity.AppVersion))
	}
	if c.Security.EndpointTableFile == "" {
		problems = append(problems, errors.New("security.endpoint_table_file is required"))
	}
	switch c.Security.SigningMethod {
	case constants.SigningMethodHS256, constants.SigningMethodEdDSA:
	default:
		problems = append(problems, fmt.Errorf("security.signing_method %q is not supported", c.Security.SigningMethod))
	}
	if c.Security.TokenTTL <= 0 {
		problems = append(problems, errors.New("security.token_ttl must be positive"))
	}
	if c.Security.TokenSafetyMargin < 0 || c.Security.TokenSafetyMargin >= c.Security.TokenTTL {
		problems = append(problems, errors.New("security.token_safety_margin must be shorter than security.token_ttl"))
	}
	if c.Runtime.MaxConcurrentCalls < 1 {
		problems = append(problems, errors.New("runtime.max_concurrent_calls must be at least 1"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}

	return errors.Join(problems...)
}

// CallTimeout bounds a whole boundary call: one attempt plus the single
// authentication retry.
func (c *Config) CallTimeout() time.Duration {
	return 2*c.API.Timeout + time.Second
}

// LoadBuildKey returns the build key linked into the binary, or else the
// one in security.build_key_file. The file may hold 32 raw bytes or 64 hex
// characters.
func LoadBuildKey(config *Config, fileClient file.FileOperations) ([]byte, error) {
	if constants.BuildKeyHex != "" {
		return decodeBuildKey([]byte(constants.BuildKeyHex))
	}
	if config.Security.BuildKeyFile == "" {
		return nil, errors.New("no build key linked in and security.build_key_file is not set")
	}

	data, err := fileClient.ReadFileRaw(config.Security.BuildKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read build key: %w", err)
	}
	if len(data) == constants.BuildKeySize {
		return data, nil
	}
	return decodeBuildKey(data)
}

func decodeBuildKey(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	key := make([]byte, hex.DecodedLen(len(trimmed)))
	if _, err := hex.Decode(key, trimmed); err != nil {
		return nil, fmt.Errorf("build key is not valid hex: %w", err)
	}
	if len(key) != constants.BuildKeySize {
		return nil, fmt.Errorf("build key must be %d bytes, got %d", constants.BuildKeySize, len(key))
	}
	return key, nil
}
