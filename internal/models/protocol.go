package models

import (
	"strings"

	"github.com/benmeehan/vpn-core/internal/constants"
)

// NormalizeProtocol returns the canonical uppercase protocol identifier.
func NormalizeProtocol(protocol string) string {
	return strings.ToUpper(strings.TrimSpace(protocol))
}

// ProtocolAPIValue returns the lowercase form the backend expects in requests.
func ProtocolAPIValue(protocol string) string {
	return strings.ToLower(strings.TrimSpace(protocol))
}

// ProtocolDisplayName returns a human readable protocol name.
func ProtocolDisplayName(protocol string) string {
	switch NormalizeProtocol(protocol) {
	case constants.ProtocolOpenVPN:
		return "OpenVPN"
	case constants.ProtocolIKEv2:
		return "IKEv2"
	default:
		return protocol
	}
}
