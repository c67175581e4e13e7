// Command flowctl operates txflow record stores and runs the sample unit of work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pay-commons/txflow/pkg/commands"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Run txflow units of work",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	commands.AddConfigFlag(root)

	cmds := commands.New(nil)
	root.AddCommand(
		cmds.Migrate(),
		cmds.Demo(),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
