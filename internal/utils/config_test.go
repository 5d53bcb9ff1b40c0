package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/pkg/file"
	"github.com/benmeehan/vpn-core/tests/mocks"
)

const minimalConfig = `
api:
  base_url: https://api.example.net
identity:
  bundle_id: net.example.vpn
  app_version: "2.4"
security:
  endpoint_table_file: /etc/vpncore/endpoints.sealed
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, minimalConfig), file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.net", config.API.BaseURL)
	assert.Equal(t, constants.DefaultRequestTimeout, config.API.Timeout)
	assert.Equal(t, int64(constants.DefaultMaxResponseBytes), config.API.MaxResponseBytes)
	assert.Equal(t, constants.SigningMethodHS256, config.Security.SigningMethod)
	assert.Equal(t, 30*time.Second, config.Security.TokenTTL)
	assert.Equal(t, 5*time.Second, config.Security.TokenSafetyMargin)
	assert.Equal(t, constants.DefaultMaxConcurrentCalls, config.Runtime.MaxConcurrentCalls)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, 2*constants.DefaultRequestTimeout+time.Second, config.CallTimeout())
}

func TestLoadConfig_ParsesDurations(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, minimalConfig+`  signing_method: EdDSA
  token_ttl: 1m
  token_safety_margin: 10s
api_unused: {}
`), file.NewFileService())

	// Unknown keys are rejected.
	require.Error(t, err)
	assert.Nil(t, config)

	config, err = LoadConfig(writeConfig(t, minimalConfig+`  signing_method: EdDSA
  token_ttl: 1m
  token_safety_margin: 10s
`), file.NewFileService())
	require.NoError(t, err)
	assert.Equal(t, constants.SigningMethodEdDSA, config.Security.SigningMethod)
	assert.Equal(t, time.Minute, config.Security.TokenTTL)
	assert.Equal(t, 10*time.Second, config.Security.TokenSafetyMargin)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing base url": strings.Replace(minimalConfig, "https://api.example.net", `""`, 1),
		"ftp base url":     strings.Replace(minimalConfig, "https://api.example.net", "ftp://api.example.net", 1),
		"missing bundle":   strings.Replace(minimalConfig, "net.example.vpn", `""`, 1),
		"bad version":      strings.Replace(minimalConfig, `"2.4"`, "banana", 1),
		"bad method":       minimalConfig + "  signing_method: RS256\n",
		"margin over ttl":  minimalConfig + "  token_ttl: 5s\n  token_safety_margin: 10s\n",
		"bad log level":    minimalConfig + "log:\n  level: loud\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content), file.NewFileService())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), file.NewFileService())
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv(constants.ConfigPathEnv, "")
	assert.Equal(t, constants.DefaultConfigPath, ConfigPath())

	t.Setenv(constants.ConfigPathEnv, "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", ConfigPath())
}

func TestLoadBuildKey(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	hexKey := []byte("3031323334353637383961626364656630313233343536373839616263646566\n")

	config := &Config{}
	config.Security.BuildKeyFile = "/keys/build.key"

	t.Run("raw", func(t *testing.T) {
		fileOps := new(mocks.MockFileOperations)
		fileOps.On("ReadFileRaw", "/keys/build.key").Return(raw, nil)

		key, err := LoadBuildKey(config, fileOps)
		require.NoError(t, err)
		assert.Equal(t, raw, key)
	})

	t.Run("hex", func(t *testing.T) {
		fileOps := new(mocks.MockFileOperations)
		fileOps.On("ReadFileRaw", "/keys/build.key").Return(hexKey, nil)

		key, err := LoadBuildKey(config, fileOps)
		require.NoError(t, err)
		assert.Equal(t, raw, key)
	})

	t.Run("short", func(t *testing.T) {
		fileOps := new(mocks.MockFileOperations)
		fileOps.On("ReadFileRaw", "/keys/build.key").Return([]byte("abcd"), nil)

		_, err := LoadBuildKey(config, fileOps)
		assert.Error(t, err)
	})

	t.Run("linked", func(t *testing.T) {
		previous := constants.BuildKeyHex
		constants.BuildKeyHex = strings.TrimSpace(string(hexKey))
		t.Cleanup(func() { constants.BuildKeyHex = previous })

		fileOps := new(mocks.MockFileOperations)
		key, err := LoadBuildKey(config, fileOps)
		require.NoError(t, err)
		assert.Equal(t, raw, key)
		fileOps.AssertNotCalled(t, "ReadFileRaw", "/keys/build.key")
	})

	t.Run("unset", func(t *testing.T) {
		_, err := LoadBuildKey(&Config{}, new(mocks.MockFileOperations))
		assert.Error(t, err)
	})
}
