package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/models"
	"github.com/benmeehan/vpn-core/internal/transport"
	"github.com/benmeehan/vpn-core/internal/utils"
	"github.com/benmeehan/vpn-core/pkg/errs"
)

// ServerConfigServiceInterface defines methods for fetching connection configurations.
type ServerConfigServiceInterface interface {
	GetConfiguration(ctx context.Context, serverID, protocol string) (models.ServerConfiguration, error)
}

// ServerConfigService fetches the connection configuration of one server
// for one protocol.
type ServerConfigService struct {
	Client  transport.SecureChannelClient
	Catalog ServerCatalogServiceInterface
	Logger  zerolog.Logger
}

// NewServerConfigService initializes a new ServerConfigService. catalog may
// be nil, in which case protocols are only validated by the backend.
func NewServerConfigService(client transport.SecureChannelClient, catalog ServerCatalogServiceInterface, logger zerolog.Logger) *ServerConfigService {
	return &ServerConfigService{
		Client:  client,
		Catalog: catalog,
		Logger:  logger,
	}
}

// GetConfiguration returns the configuration for serverID and protocol.
func (s *ServerConfigService) GetConfiguration(ctx context.Context, serverID, protocol string) (models.ServerConfiguration, error) {
	const op = "services.GetConfiguration"

	serverID = strings.TrimSpace(serverID)
	protocol = models.NormalizeProtocol(protocol)
	if serverID == "" || protocol == "" {
		return models.ServerConfiguration{}, errs.Newf(errs.ErrNotFound, op, "server id and protocol are required")
	}

	if s.Catalog != nil {
		if advertised, ok := s.Catalog.Protocols(serverID); ok {
			if _, supported := utils.SliceToSet(advertised)[protocol]; !supported {
				s.Logger.Warn().Str("server_id", serverID).Str("protocol", protocol).Msg("Protocol not offered by server")
				return models.ServerConfiguration{}, errs.Newf(errs.ErrNotFound, op, "server %q does not offer %s", serverID, protocol)
			}
		}
	}

	body, err := s.Client.Request(ctx, constants.OperationGetConfiguration, map[string]string{
		"server_id": serverID,
		"protocol":  models.ProtocolAPIValue(protocol),
	})
	if err != nil {
		return models.ServerConfiguration{}, err
	}

	if msg, ok := backendError(body); ok {
		s.Logger.Warn().Str("server_id", serverID).Str("error", msg).Msg("Backend has no configuration")
		return models.ServerConfiguration{}, errs.Newf(errs.ErrNotFound, op, "backend error: %s", msg)
	}

	var config models.ServerConfiguration
	if err := json.Unmarshal(body, &config); err != nil {
		return models.ServerConfiguration{}, errs.New(errs.ErrNetwork, op, fmt.Errorf("failed to decode configuration: %w", err))
	}
	if config.Protocol == "" {
		config.Protocol = protocol
	}
	config.Protocol = models.NormalizeProtocol(config.Protocol)
	if config.ID == "" {
		config.ID = serverID
	}

	s.Logger.Info().Str("server_id", serverID).Str("protocol", config.Protocol).Msg("Configuration fetched")
	return config, nil
}
