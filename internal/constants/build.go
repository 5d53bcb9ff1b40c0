package constants

// Set at link time:
//
//	go build -ldflags "-X github.com/benmeehan/vpn-core/internal/constants.BuildKeyHex=<64 hex chars>"
//
// When empty the key is read from security.build_key_file.
var BuildKeyHex = ""

// Version is reported in the User-Agent header and token claims when the
// configuration does not override it.
var Version = "0.1.0"
