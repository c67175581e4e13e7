// Package commands provides the flowctl CLI commands.
//
// Commands share a factory holding the logger and the injectable dependencies:
//
//	cmds := commands.New(lggr)
//	rootCmd.AddCommand(
//	    cmds.Migrate(),
//	    cmds.Demo(),
//	)
//
// Every command reads the configuration file named by the persistent "config" flag of the root
// command, see config.Load.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/pay-commons/txflow/config"
	"github.com/pay-commons/txflow/pkg/logger"
)

// ConfigFlag is the name of the persistent flag holding the configuration file path.
const ConfigFlag = "config"

// Commands provides a factory for creating CLI commands with shared configuration.
type Commands struct {
	lggr logger.Logger
	deps Deps
}

// New creates a new Commands factory. When lggr is nil, every command builds its logger from the
// log section of the loaded configuration.
func New(lggr logger.Logger) *Commands {
	c := &Commands{lggr: lggr}
	c.deps.applyDefaults()

	return c
}

// WithDeps replaces the dependencies of the commands. Nil fields keep their production defaults.
func (c *Commands) WithDeps(deps Deps) *Commands {
	deps.applyDefaults()
	c.deps = deps

	return c
}

// AddConfigFlag registers the persistent configuration flag on the root command.
func AddConfigFlag(root *cobra.Command) {
	root.PersistentFlags().StringP(ConfigFlag, "c", "txflow.yml", "Path to the configuration file")
}

// setup loads and validates the configuration named by the config flag and resolves the logger.
func (c *Commands) setup(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	path, err := cmd.Flags().GetString(ConfigFlag)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := c.deps.ConfigLoader(path)
	if err != nil {
		return nil, nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if c.lggr != nil {
		return cfg, c.lggr, nil
	}

	lggr, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	return cfg, lggr, nil
}
