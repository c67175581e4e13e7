package datastore

import (
	"context"
	"fmt"

	"github.com/pay-commons/txflow/pkg/logger"
)

// DriverMemory selects the in-process MemoryStore.
const DriverMemory = "memory"

// Open returns the store for driver. SQL stores are reached with OpenSQL and migrated, so the
// returned store is ready for use.
func Open(ctx context.Context, driver, dsn string, attempts uint, lggr logger.Logger) (TransactionalStore, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		store, err := OpenSQL(ctx, driver, dsn, attempts, lggr)
		if err != nil {
			return nil, err
		}
		if err = store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
