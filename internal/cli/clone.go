package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/progress"
)

func newCloneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <dest>",
		Short: "Populate a new local working tree from the configured remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			dest := args[0]

			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &cliError{code: ExitInternal, err: err}
			}

			eng, err := buildEngine(cc, dest)
			if err != nil {
				return err
			}

			sink := progress.Sink(progress.NoopSink{})
			if !flags.Quiet {
				sink = progress.NewTextSink(os.Stdout)
			}

			report, err := eng.Run(cmd.Context(), runOpts(plan.KindClone, false, false, ""), sink)
			if err != nil {
				return wrapEngineError(err)
			}

			if flags.JSON {
				return printJSON(report)
			}

			fmt.Printf("clone: downloaded %d paths into %s\n", len(report.Plan.Downloads), dest)

			return nil
		},
	}

	return cmd
}
