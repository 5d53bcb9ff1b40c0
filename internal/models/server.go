package models

import (
	"encoding/json"
	"errors"
)

// ServerSummary represents one entry of the server list.
type ServerSummary struct {
	// ID is the backend identifier of the server.
	ID string `json:"id"`

	// Name is the display name of the server.
	Name string `json:"name"`

	// CountryCode is the ISO country code of the server location (e.g., "US", "GB").
	CountryCode string `json:"country_code"`

	// Protocols lists the supported VPN protocols in backend order.
	Protocols []string `json:"protocols"`
}

// UnmarshalJSON accepts both country_code and countryCode for the country field.
func (s *ServerSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID               string   `json:"id"`
		Name             string   `json:"name"`
		CountryCode      string   `json:"country_code"`
		CountryCodeCamel string   `json:"countryCode"`
		Protocols        []string `json:"protocols"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return errors.New("server summary is missing id")
	}

	s.ID = raw.ID
	s.Name = raw.Name
	s.CountryCode = raw.CountryCode
	if s.CountryCode == "" {
		s.CountryCode = raw.CountryCodeCamel
	}
	s.Protocols = make([]string, 0, len(raw.Protocols))
	for _, p := range raw.Protocols {
		s.Protocols = append(s.Protocols, NormalizeProtocol(p))
	}
	return nil
}

// ServerConfiguration represents the connection configuration of one server
// for one protocol, including credentials.
type ServerConfiguration struct {
	// ID is the backend identifier of the server.
	ID string `json:"id"`

	// Name is the display name of the server.
	Name string `json:"name"`

	// Protocol is the VPN protocol this configuration is for.
	Protocol string `json:"protocol"`

	// Template is the client configuration template (e.g., .ovpn content for OpenVPN).
	Template string `json:"template"`

	// Host is the server host name or IP address.
	Host string `json:"host"`

	// Username for VPN authentication.
	Username string `json:"username"`

	// Password for VPN authentication.
	Password string `json:"password"`
}

// ErrorResponse is the error envelope the backend returns as {"error": "..."}.
type ErrorResponse struct {
	Error string `json:"error"`
}
