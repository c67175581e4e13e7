package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pay-commons/txflow/datastore"
)

// Migrate creates the migrate command, which creates the record schema of the configured SQL store.
func (c *Commands) Migrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the record schema",
		Long:  "Connects to the configured SQL store and creates the record schema if it does not exist.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lggr, err := c.setup(cmd)
			if err != nil {
				return err
			}

			if cfg.Store.Driver == datastore.DriverMemory {
				lggr.Infow("Memory store has no schema, nothing to migrate")
				return nil
			}

			// opening a SQL store migrates it
			store, err := c.deps.StoreOpener(cmd.Context(), cfg.Store, lggr)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			lggr.Infow("Record schema is up to date", "driver", cfg.Store.Driver)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)

			return err
		},
	}
}
