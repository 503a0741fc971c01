package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/progress"
)

func newInitCmd() *cobra.Command {
	var (
		force     bool
		normalize bool
		message   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new repository from the current working tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			wd, err := currentWorkingTree()
			if err != nil {
				return err
			}

			eng, err := buildEngine(cc, wd)
			if err != nil {
				return err
			}

			if normalize {
				eng.Normalize = true
			}

			sink := progress.Sink(progress.NoopSink{})
			if !flags.Quiet {
				sink = progress.NewTextSink(os.Stdout)
			}

			report, err := eng.Run(cmd.Context(), runOpts(plan.KindInit, false, force, message), sink)
			if err != nil {
				return wrapEngineError(err)
			}

			if flags.JSON {
				return printJSON(report)
			}

			fmt.Printf("init: uploaded %d paths, snapshot %s\n", len(report.Plan.Uploads), report.NewSnapID)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "has no effect (conflicts always block)")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "auto-normalize non-NFC filenames instead of rejecting them")
	cmd.Flags().StringVar(&message, "message", "", "snapshot message recorded for this init")

	return cmd
}
