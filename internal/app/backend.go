package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/pkg/memory"
	"github.com/MrWong99/murmur/pkg/memory/flat"
	"github.com/MrWong99/murmur/pkg/memory/postgres"
	"github.com/MrWong99/murmur/pkg/memory/sqlite"
)

// backend is an opened vector backend. pinger and closer are nil for the
// in-process flat index.
type backend struct {
	factory memory.IndexFactory
	pinger  health.Pinger
	closer  func() error
}

// openBackend opens the vector backend selected by mc. dims is the
// embedder's vector length; a configured memory.dimensions must agree with it.
func openBackend(ctx context.Context, mc config.MemoryConfig, dims int) (*backend, error) {
	if mc.Dimensions > 0 && dims > 0 && mc.Dimensions != dims {
		return nil, fmt.Errorf("memory.dimensions is %d but the embeddings model produces %d: %w",
			mc.Dimensions, dims, memory.ErrDimensionMismatch)
	}

	switch mc.Backend {
	case config.BackendFlat, "":
		return &backend{factory: flat.Factory}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(mc.DSN)
		if err != nil {
			return nil, err
		}
		return &backend{factory: db.Factory(), pinger: db, closer: db.Close}, nil

	case config.BackendPostgres:
		if dims <= 0 {
			dims = mc.Dimensions
		}
		store, err := postgres.NewStore(ctx, mc.DSN, dims)
		if err != nil {
			return nil, err
		}
		return &backend{
			factory: store.Factory(),
			pinger:  store,
			closer:  func() error { store.Close(); return nil },
		}, nil
	}
	return nil, errors.New("unknown memory backend " + string(mc.Backend))
}
