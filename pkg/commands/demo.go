package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pay-commons/txflow/flow"
	"github.com/pay-commons/txflow/internal/demo"
	"github.com/pay-commons/txflow/metrics"
	"github.com/pay-commons/txflow/session"
)

// demoResult is what the demo command prints.
type demoResult struct {
	Values  []any             `yaml:"values"`
	Reports []flow.StepReport `yaml:"reports"`
	Error   string            `yaml:"error,omitempty"`
}

// Demo creates the demo command, which increments a counter record in the configured store as one
// unit of work and prints the resulting context and step reports as YAML.
func (c *Commands) Demo() *cobra.Command {
	var (
		key         string
		by          int64
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the counter unit of work",
		Long: "Validates the request, increments the counter record within a transaction and " +
			"summarizes the result. A concurrent writer makes the run fail with a transactional conflict.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lggr, err := c.setup(cmd)
			if err != nil {
				return err
			}

			store, err := c.deps.StoreOpener(cmd.Context(), cfg.Store, lggr)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var registry *metrics.Registry
			if showMetrics || cfg.Metrics.Enabled {
				registry = metrics.NewRegistry()
				store = metrics.NewInstrumentedStore(store, registry)
			}

			reporter := flow.NewMemoryReporter()
			opts := []session.RunnerOption{session.WithLogger(lggr), session.WithReporter(reporter)}
			if registry != nil {
				opts = append(opts, session.WithObserver(registry))
			}
			runner := session.NewRunner[*flow.TransactionContext](store, opts...)

			tc, runErr := demo.Run(cmd.Context(), runner, store, demo.Request{Key: key, By: by})

			reports, err := reporter.GetReports()
			if err != nil {
				return err
			}
			result := demoResult{Values: tc.Values(), Reports: reports}
			if runErr != nil {
				result.Error = runErr.Error()
			}

			if err = writeYAML(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if registry != nil {
				if err = registry.WriteText(cmd.OutOrStdout()); err != nil {
					return err
				}
			}

			return runErr
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "counter", "Key of the counter record")
	cmd.Flags().Int64Var(&by, "by", 1, "Amount to add to the counter")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print the metrics of the run")

	return cmd
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return enc.Close()
}
