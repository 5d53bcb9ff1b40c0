package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"

	"github.com/benmeehan/vpn-core/pkg/errs"
)

const fingerprintDomain = "vpncore-fp-v1"

// Attributes are the stable platform identifiers a fingerprint is derived from.
type Attributes struct {
	HostID          string // hardware/platform UUID
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	KernelArch      string
}

// BuildID identifies the OS build. Either the platform or kernel version is enough.
func (a Attributes) BuildID() string {
	if a.PlatformVersion != "" {
		return a.PlatformVersion
	}
	return a.KernelVersion
}

// PlatformSource supplies platform attributes.
type PlatformSource interface {
	Attributes(ctx context.Context) (Attributes, error)
}

// HostSource reads platform attributes through gopsutil.
type HostSource struct{}

// Attributes implements PlatformSource.
func (HostSource) Attributes(ctx context.Context) (Attributes, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to read host info: %w", err)
	}
	return Attributes{
		HostID:          info.HostID,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
	}, nil
}

// Fingerprint is a SHA-256 digest of the device attributes and app identity.
type Fingerprint []byte

// Digest returns the lowercase hex form of the fingerprint.
func (f Fingerprint) Digest() string {
	return hex.EncodeToString(f)
}

// FingerprintProvider defines methods for obtaining the device fingerprint.
type FingerprintProvider interface {
	Fingerprint(ctx context.Context) (Fingerprint, error)
	Reset()
}

// Provider computes the device fingerprint once and caches it for the
// lifetime of the process or until Reset.
type Provider struct {
	source     PlatformSource
	bundleID   string
	appVersion string
	logger     zerolog.Logger

	mu     sync.Mutex
	cached Fingerprint
}

// NewProvider validates the app identity and returns a Provider. The version
// is canonicalised so "1.2" and "1.2.0" fingerprint identically.
func NewProvider(source PlatformSource, bundleID, appVersion string, logger zerolog.Logger) (*Provider, error) {
	if bundleID == "" {
		return nil, errors.New("bundle id is required")
	}
	v, err := semver.NewVersion(appVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid app version %q: %w", appVersion, err)
	}

	return &Provider{
		source:     source,
		bundleID:   bundleID,
		appVersion: v.String(),
		logger:     logger,
	}, nil
}

// AppVersion returns the canonical app version mixed into the fingerprint.
func (p *Provider) AppVersion() string {
	return p.appVersion
}

// Fingerprint returns the cached fingerprint, computing it on first use.
// It never falls back to random data: missing identifiers are an error.
func (p *Provider) Fingerprint(ctx context.Context) (Fingerprint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return bytes.Clone(p.cached), nil
	}

	attrs, err := p.source.Attributes(ctx)
	if err != nil {
		return nil, errs.New(errs.ErrFingerprintUnavailable, "identity.Fingerprint", err)
	}
	if attrs.HostID == "" {
		return nil, errs.Newf(errs.ErrFingerprintUnavailable, "identity.Fingerprint", "platform UUID is empty")
	}
	if attrs.BuildID() == "" {
		return nil, errs.Newf(errs.ErrFingerprintUnavailable, "identity.Fingerprint", "OS build identifier is empty")
	}

	p.cached = p.compute(attrs)
	p.logger.Info().Str("os", attrs.OS).Str("arch", attrs.KernelArch).Msg("Device fingerprint computed")

	return bytes.Clone(p.cached), nil
}

// Reset drops the cached fingerprint.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// compute hashes length-prefixed fields so adjacent values cannot be shifted
// into one another.
func (p *Provider) compute(attrs Attributes) Fingerprint {
	h := sha256.New()
	for _, field := range []string{
		fingerprintDomain,
		attrs.HostID,
		attrs.OS,
		attrs.Platform,
		attrs.BuildID(),
		attrs.KernelArch,
		p.bundleID,
		p.appVersion,
	} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return h.Sum(nil)
}
