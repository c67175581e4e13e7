package commands

import (
	"context"

	"github.com/pay-commons/txflow/config"
	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/pkg/logger"
)

// ConfigLoaderFunc loads the configuration from a file path.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// StoreOpenerFunc opens the store described by cfg, ready for use.
type StoreOpenerFunc func(ctx context.Context, cfg config.StoreConfig, lggr logger.Logger) (datastore.TransactionalStore, error)

// defaultStoreOpener is the production implementation that opens the configured store.
func defaultStoreOpener(ctx context.Context, cfg config.StoreConfig, lggr logger.Logger) (datastore.TransactionalStore, error) {
	return datastore.Open(ctx, cfg.Driver, cfg.DSN, cfg.ConnectAttempts, lggr)
}

// Deps holds the injectable dependencies of the commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// StoreOpener opens the record store.
	// Default: datastore.Open
	StoreOpener StoreOpenerFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.StoreOpener == nil {
		d.StoreOpener = defaultStoreOpener
	}
}
