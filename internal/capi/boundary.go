package capi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/core"
	"github.com/benmeehan/vpn-core/pkg/errs"
)

// Allocator owns the memory handed to C callers. Alloc returns a
// NUL-terminated copy of data; Free releases a pointer Alloc returned.
type Allocator interface {
	Alloc(data []byte) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// Boundary adapts the core to the flat C API: every call either returns one
// freshly allocated JSON string or nil. Errors never cross the boundary.
type Boundary struct {
	core   func() (*core.Core, error)
	alloc  Allocator
	logger zerolog.Logger
}

// New creates a Boundary resolving the core through provider on every call.
func New(provider func() (*core.Core, error), alloc Allocator) *Boundary {
	return &Boundary{
		core:   provider,
		alloc:  alloc,
		logger: zerolog.New(os.Stderr).With().Timestamp().Str("component", "capi").Logger(),
	}
}

// ListServers returns the server list as a JSON array, or nil.
func (b *Boundary) ListServers() unsafe.Pointer {
	return b.call(constants.OperationListServers, func(ctx context.Context, c *core.Core) (any, error) {
		return c.Catalog.ListServers(ctx)
	})
}

// GetConfiguration returns the configuration of serverID for protocol as a
// JSON object, or nil.
func (b *Boundary) GetConfiguration(serverID, protocol string) unsafe.Pointer {
	return b.call(constants.OperationGetConfiguration, func(ctx context.Context, c *core.Core) (any, error) {
		return c.Configs.GetConfiguration(ctx, serverID, protocol)
	})
}

// Release frees a string returned by this Boundary. nil is ignored.
func (b *Boundary) Release(p unsafe.Pointer) {
	if p == nil {
		return
	}
	b.alloc.Free(p)
}

func (b *Boundary) call(name string, fn func(ctx context.Context, c *core.Core) (any, error)) unsafe.Pointer {
	c, err := b.core()
	if err != nil {
		b.logger.Error().Err(err).Str("call", name).Msg("Core unavailable")
		return nil
	}
	logger := c.Logger.With().Str("component", "capi").Str("call", name).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), c.Config.CallTimeout())
	defer cancel()

	var data []byte
	err = c.Pool.Run(ctx, func(ctx context.Context) (err error) {
		// The task runs on a pool goroutine; a panic there must not take
		// down the host process.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		value, err := fn(ctx, c)
		if err != nil {
			return err
		}
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("code", errs.Code(err)).Msg("Boundary call failed")
		c.Metrics.ObserveBoundaryCall(name, false)
		return nil
	}

	c.Metrics.ObserveBoundaryCall(name, true)
	return b.alloc.Alloc(data)
}
