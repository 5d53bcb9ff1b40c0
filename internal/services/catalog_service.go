package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/models"
	"github.com/benmeehan/vpn-core/internal/transport"
	"github.com/benmeehan/vpn-core/pkg/errs"
)

// ServerCatalogServiceInterface defines methods for listing VPN servers.
type ServerCatalogServiceInterface interface {
	ListServers(ctx context.Context) ([]models.ServerSummary, error)
	Protocols(serverID string) ([]string, bool)
}

// ServerCatalogService lists the servers the backend offers and remembers
// the protocols each one advertised in the latest listing.
type ServerCatalogService struct {
	Client transport.SecureChannelClient
	Logger zerolog.Logger

	protocols cmap.ConcurrentMap[string, []string]
}

// NewServerCatalogService initializes a new ServerCatalogService.
func NewServerCatalogService(client transport.SecureChannelClient, logger zerolog.Logger) *ServerCatalogService {
	return &ServerCatalogService{
		Client:    client,
		Logger:    logger,
		protocols: cmap.New[[]string](),
	}
}

// ListServers fetches the server list. An empty list is a valid result.
func (s *ServerCatalogService) ListServers(ctx context.Context) ([]models.ServerSummary, error) {
	body, err := s.Client.Request(ctx, constants.OperationListServers, nil)
	if err != nil {
		return nil, err
	}

	if msg, ok := backendError(body); ok {
		s.Logger.Error().Str("error", msg).Msg("Backend rejected server list request")
		return nil, errs.Newf(errs.ErrNetwork, "services.ListServers", "backend error: %s", msg)
	}

	var servers []models.ServerSummary
	if err := json.Unmarshal(body, &servers); err != nil {
		return nil, errs.New(errs.ErrNetwork, "services.ListServers", fmt.Errorf("failed to decode server list: %w", err))
	}
	if servers == nil {
		servers = []models.ServerSummary{}
	}

	s.remember(servers)
	s.Logger.Info().Int("servers", len(servers)).Msg("Server list fetched")
	return servers, nil
}

// Protocols returns the protocols serverID advertised in the latest listing.
func (s *ServerCatalogService) Protocols(serverID string) ([]string, bool) {
	return s.protocols.Get(serverID)
}

// remember replaces the cached protocol snapshot with the one in servers.
func (s *ServerCatalogService) remember(servers []models.ServerSummary) {
	fresh := make(map[string][]string, len(servers))
	for _, server := range servers {
		fresh[server.ID] = append([]string(nil), server.Protocols...)
	}

	for _, id := range s.protocols.Keys() {
		if _, ok := fresh[id]; !ok {
			s.protocols.Remove(id)
		}
	}
	s.protocols.MSet(fresh)
}

// backendError reports whether body is a {"error": "..."} envelope.
func backendError(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}

	var envelope models.ErrorResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Error == "" {
		return "", false
	}
	return envelope.Error, true
}
