package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/core"
	"github.com/benmeehan/vpn-core/internal/endpoints"
	"github.com/benmeehan/vpn-core/internal/models"
	"github.com/benmeehan/vpn-core/internal/utils"
	"github.com/benmeehan/vpn-core/pkg/encryption"
	"github.com/benmeehan/vpn-core/pkg/identity"
	"github.com/benmeehan/vpn-core/tests/mocks"
)

// BuildKey is the build key shared by test cores and backends.
var BuildKey = []byte("0123456789abcdef0123456789abcdef")

const tableFile = "endpoints.sealed"

// Backend is an in-process VPN API that checks bearer tokens the way the
// real backend does.
type Backend struct {
	Server *httptest.Server

	Servers []models.ServerSummary
	// Configs is keyed by "<server id>/<lowercase protocol>".
	Configs map[string]models.ServerConfiguration
	// EncryptConfigs serves configurations as AES-CBC octet-stream bodies.
	EncryptConfigs bool
	// Reject401 is the number of upcoming requests answered with 401.
	Reject401 atomic.Int32

	Requests atomic.Int32

	mu     sync.RWMutex
	verify func(raw string) error
	cipher *encryption.CBCCipher
}

// NewBackend starts a Backend with a small default catalog.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	keys, err := core.DeriveKeys(BuildKey)
	require.NoError(t, err)
	cipher, err := encryption.NewCBCCipher(keys.ResponseBody)
	require.NoError(t, err)

	b := &Backend{
		Servers: []models.ServerSummary{
			{ID: "us-1", Name: "New York", CountryCode: "US", Protocols: []string{"openvpn", "ikev2"}},
			{ID: "de-1", Name: "Frankfurt", CountryCode: "DE", Protocols: []string{"openvpn"}},
		},
		Configs: map[string]models.ServerConfiguration{
			"us-1/openvpn": {ID: "us-1", Name: "New York", Protocol: "openvpn", Template: "client\ndev tun\n", Host: "us1.vpn.example.net", Username: "alice", Password: "s3cret"},
			"us-1/ikev2":   {ID: "us-1", Name: "New York", Protocol: "ikev2", Host: "us1.vpn.example.net", Username: "alice", Password: "s3cret"},
			"de-1/openvpn": {ID: "de-1", Name: "Frankfurt", Protocol: "openvpn", Template: "client\n", Host: "de1.vpn.example.net", Username: "bob", Password: "hunter2"},
		},
		cipher: cipher,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/servers", b.listServers)
	mux.HandleFunc("GET /v1/servers/{id}/configuration", b.getConfiguration)

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Requests.Add(1)
		if !b.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.Server.Close)
	return b
}

// VerifyWith makes the backend check bearer tokens with verify.
func (b *Backend) VerifyWith(verify func(raw string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verify = verify
}

func (b *Backend) authorized(r *http.Request) bool {
	for {
		n := b.Reject401.Load()
		if n <= 0 {
			break
		}
		if b.Reject401.CompareAndSwap(n, n-1) {
			return false
		}
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return false
	}

	b.mu.RLock()
	verify := b.verify
	b.mu.RUnlock()
	return verify == nil || verify(raw) == nil
}

func (b *Backend) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.Servers)
}

func (b *Backend) getConfiguration(w http.ResponseWriter, r *http.Request) {
	config, ok := b.Configs[r.PathValue("id")+"/"+r.URL.Query().Get("protocol")]
	if !ok {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "server not found"})
		return
	}
	if !b.EncryptConfigs {
		writeJSON(w, http.StatusOK, config)
		return
	}

	plain, _ := json.Marshal(config)
	sealed, err := b.cipher.Encrypt(plain)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", constants.ContentTypeBinary)
	w.Write(sealed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Config returns a valid configuration pointing at the backend.
func (b *Backend) Config() *utils.Config {
	config := &utils.Config{}
	config.API.BaseURL = b.Server.URL
	config.API.Timeout = 2 * time.Second
	config.Identity.BundleID = "net.example.vpn"
	config.Identity.AppVersion = "1.4.0"
	config.Security.EndpointTableFile = tableFile
	config.Security.Issuer = "vpncore"
	config.Security.Audience = "vpn-api"
	config.ApplyDefaults()
	return config
}

// NewCore builds a Core talking to the backend, with tokens verified by the
// backend using the core's own issuer.
func (b *Backend) NewCore(t *testing.T, config *utils.Config) *core.Core {
	t.Helper()
	require.NoError(t, config.Validate())

	keys, err := core.DeriveKeys(BuildKey)
	require.NoError(t, err)
	sealed, err := endpoints.Seal(keys.EndpointTable, endpoints.Table{Endpoints: []endpoints.Descriptor{
		{Operation: constants.OperationListServers, URLTemplate: "/v1/servers", Method: "GET"},
		{Operation: constants.OperationGetConfiguration, URLTemplate: "/v1/servers/{server_id}/configuration?protocol={protocol}", Method: "GET"},
	}})
	require.NoError(t, err)

	files := new(mocks.MockFileOperations)
	files.On("ReadFileRaw", tableFile).Return(sealed, nil)

	platform := new(mocks.MockPlatformSource)
	platform.On("Attributes", mock.Anything).Return(identity.Attributes{
		HostID:          "6f1c2a7e-0d4b-4c8e-9a51-3f2b7d9e1c04",
		OS:              "linux",
		Platform:        "ubuntu",
		PlatformVersion: "24.04",
		KernelVersion:   "6.8.0",
		KernelArch:      "x86_64",
	}, nil)

	c, err := core.New(config, core.Dependencies{
		Platform:   platform,
		HTTPClient: b.Server.Client(),
		Files:      files,
		BuildKey:   BuildKey,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	b.VerifyWith(func(raw string) error {
		_, err := c.Issuer.Verify(raw)
		return err
	})
	return c
}
