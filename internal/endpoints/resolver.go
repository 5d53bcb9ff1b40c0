package endpoints

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/pkg/errs"
)

// EndpointResolver defines how logical operations map to endpoints.
type EndpointResolver interface {
	Resolve(operation string) (Descriptor, error)
}

// Resolver decrypts the sealed endpoint table on first use and serves
// lookups from the in-memory index afterwards. A failed load is permanent
// for the life of the Resolver.
type Resolver struct {
	load   func() ([]byte, error)
	key    []byte
	logger zerolog.Logger

	once    sync.Once
	index   map[string]Descriptor
	loadErr error
}

// NewResolver creates a Resolver reading the sealed table through load.
func NewResolver(load func() ([]byte, error), key []byte, logger zerolog.Logger) *Resolver {
	return &Resolver{load: load, key: key, logger: logger}
}

// Resolve returns the descriptor for operation.
func (r *Resolver) Resolve(operation string) (Descriptor, error) {
	r.once.Do(r.loadTable)
	if r.loadErr != nil {
		return Descriptor{}, r.loadErr
	}

	d, ok := r.index[operation]
	if !ok {
		return Descriptor{}, errs.Newf(errs.ErrEndpointUnknown, "endpoints.Resolve", "operation %q", operation)
	}
	return d, nil
}

func (r *Resolver) loadTable() {
	sealed, err := r.load()
	if err != nil {
		r.loadErr = errs.New(errs.ErrConfigCorrupt, "endpoints.load", err)
		r.logger.Error().Err(err).Msg("Failed to read endpoint table")
		return
	}

	table, err := Open(r.key, sealed)
	if err != nil {
		r.loadErr = errs.New(errs.ErrConfigCorrupt, "endpoints.load", err)
		r.logger.Error().Err(err).Msg("Failed to decrypt endpoint table")
		return
	}

	index, err := table.Index()
	if err != nil {
		r.loadErr = errs.New(errs.ErrConfigCorrupt, "endpoints.load", err)
		r.logger.Error().Err(err).Msg("Invalid endpoint table")
		return
	}

	r.index = index
	r.logger.Info().Int("endpoints", len(index)).Msg("Endpoint table loaded")
}
