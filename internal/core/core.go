package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/endpoints"
	"github.com/benmeehan/vpn-core/internal/metrics"
	"github.com/benmeehan/vpn-core/internal/services"
	"github.com/benmeehan/vpn-core/internal/transport"
	"github.com/benmeehan/vpn-core/internal/utils"
	"github.com/benmeehan/vpn-core/pkg/encryption"
	"github.com/benmeehan/vpn-core/pkg/file"
	"github.com/benmeehan/vpn-core/pkg/identity"
	"github.com/benmeehan/vpn-core/pkg/jwt"
)

// Dependencies are the capabilities the core needs from its environment.
type Dependencies struct {
	Platform   identity.PlatformSource
	HTTPClient transport.Doer
	Files      file.FileOperations
	BuildKey   []byte
	Clock      func() time.Time
}

// Keys are the purpose-bound keys derived from the build key.
type Keys struct {
	EndpointTable []byte
	ResponseBody  []byte
}

// DeriveKeys derives the endpoint table and response body keys.
func DeriveKeys(buildKey []byte) (Keys, error) {
	if len(buildKey) != constants.BuildKeySize {
		return Keys{}, fmt.Errorf("build key must be %d bytes, got %d", constants.BuildKeySize, len(buildKey))
	}
	tableKey, err := encryption.DeriveKey(buildKey, constants.KeyLabelEndpointTable, nil, 32)
	if err != nil {
		return Keys{}, err
	}
	bodyKey, err := encryption.DeriveKey(buildKey, constants.KeyLabelResponseBody, nil, 32)
	if err != nil {
		return Keys{}, err
	}
	return Keys{EndpointTable: tableKey, ResponseBody: bodyKey}, nil
}

// Core is the wired component graph behind the C API.
type Core struct {
	Config       *utils.Config
	Logger       zerolog.Logger
	Metrics      *metrics.Registry
	Fingerprints *identity.Provider
	Issuer       *jwt.Issuer
	Resolver     *endpoints.Resolver
	Client       *transport.Client
	Catalog      *services.ServerCatalogService
	Configs      *services.ServerConfigService
	Pool         *utils.WorkerPool
}

// New wires the components described by config.
func New(config *utils.Config, deps Dependencies, logger zerolog.Logger) (*Core, error) {
	if deps.Platform == nil || deps.HTTPClient == nil || deps.Files == nil {
		return nil, errors.New("platform, http client and file dependencies are required")
	}

	keys, err := DeriveKeys(deps.BuildKey)
	if err != nil {
		return nil, err
	}
	bodyCipher, err := encryption.NewCBCCipher(keys.ResponseBody)
	if err != nil {
		return nil, err
	}

	registry := metrics.New()

	fingerprints, err := identity.NewProvider(deps.Platform, config.Identity.BundleID, config.Identity.AppVersion,
		logger.With().Str("component", "identity").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint provider: %w", err)
	}

	signer, err := jwt.NewSigner(config.Security.SigningMethod, deps.BuildKey)
	if err != nil {
		return nil, err
	}
	issuer, err := jwt.NewIssuer(fingerprints, signer, jwt.Options{
		TTL:          config.Security.TokenTTL,
		SafetyMargin: config.Security.TokenSafetyMargin,
		Issuer:       config.Security.Issuer,
		Audience:     config.Security.Audience,
		AppVersion:   fingerprints.AppVersion(),
		Clock:        deps.Clock,
		OnIssue:      func(jwt.AuthToken) { registry.ObserveTokenIssued() },
	}, logger.With().Str("component", "jwt").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create credential issuer: %w", err)
	}

	tableFile := config.Security.EndpointTableFile
	resolver := endpoints.NewResolver(func() ([]byte, error) {
		return deps.Files.ReadFileRaw(tableFile)
	}, keys.EndpointTable, logger.With().Str("component", "endpoints").Logger())

	client, err := transport.NewClient(transport.Options{
		BaseURL:          config.API.BaseURL,
		Timeout:          config.API.Timeout,
		MaxResponseBytes: config.API.MaxResponseBytes,
		UserAgent:        config.API.UserAgent,
	}, deps.HTTPClient, resolver, issuer, bodyCipher, registry, logger.With().Str("component", "transport").Logger())
	if err != nil {
		return nil, err
	}

	catalog := services.NewServerCatalogService(client, logger.With().Str("component", "catalog").Logger())
	configs := services.NewServerConfigService(client, catalog, logger.With().Str("component", "config").Logger())

	logger.Info().
		Str("base_url", config.API.BaseURL).
		Str("signing_method", config.Security.SigningMethod).
		Int("max_concurrent_calls", config.Runtime.MaxConcurrentCalls).
		Msg("Core initialized")

	return &Core{
		Config:       config,
		Logger:       logger,
		Metrics:      registry,
		Fingerprints: fingerprints,
		Issuer:       issuer,
		Resolver:     resolver,
		Client:       client,
		Catalog:      catalog,
		Configs:      configs,
		Pool:         utils.NewWorkerPool(config.Runtime.MaxConcurrentCalls),
	}, nil
}

// Close stops the worker pool. Calls in flight finish first.
func (c *Core) Close() {
	c.Pool.Shutdown()
}

// NewLogger builds the process logger from the log section of config.
func NewLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if config.Log.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("module", "vpncore").Logger()
}

// Load builds a Core from the config file named by VPNCORE_CONFIG.
func Load() (*Core, error) {
	return LoadFile(utils.ConfigPath())
}

// LoadFile builds a Core from the config file at path, using the host's
// platform identifiers and an HTTP/2 client.
func LoadFile(path string) (*Core, error) {
	files := file.NewFileService()

	config, err := utils.LoadConfig(path, files)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(config)

	buildKey, err := utils.LoadBuildKey(config, files)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load build key")
		return nil, err
	}

	httpClient, err := transport.NewHTTPClient()
	if err != nil {
		return nil, err
	}

	return New(config, Dependencies{
		Platform:   identity.HostSource{},
		HTTPClient: httpClient,
		Files:      files,
		BuildKey:   buildKey,
	}, logger)
}

var (
	defaultMu   sync.Mutex
	defaultCore *Core
)

// Default returns the process-wide Core, loading it on first use. A failed
// load is retried on the next call.
func Default() (*Core, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultCore != nil {
		return defaultCore, nil
	}
	c, err := Load()
	if err != nil {
		return nil, err
	}
	defaultCore = c
	return c, nil
}

// SetDefault installs c as the process-wide Core, closing any previous one.
func SetDefault(c *Core) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultCore != nil && defaultCore != c {
		defaultCore.Close()
	}
	defaultCore = c
}

// Reset drops the process-wide Core, so the next Default call rebuilds it.
func Reset() {
	SetDefault(nil)
}
