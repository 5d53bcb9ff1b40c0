package constants

// VPN protocol identifiers as advertised by the backend.
const (
	ProtocolOpenVPN = "OPENVPN"
	ProtocolIKEv2   = "IKEV2"
)

// Signing methods accepted in security.signing_method.
const (
	SigningMethodHS256 = "HS256"
	SigningMethodEdDSA = "EdDSA"
)

// Key derivation labels. Changing any of them invalidates sealed tables and
// tokens produced by earlier builds.
const (
	KeyLabelEndpointTable = "vpncore/endpoint-table/v1"
	KeyLabelResponseBody  = "vpncore/response-body/v1"
	KeyLabelJWTHMAC       = "vpncore/jwt-hs256/v1"
	KeyLabelJWTEd25519    = "vpncore/jwt-ed25519/v1"
)
