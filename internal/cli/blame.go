package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBlameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blame <path>",
		Short: "Show the snapshot that last changed a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			wd, err := currentWorkingTree()
			if err != nil {
				return err
			}

			eng, err := buildEngine(cc, wd)
			if err != nil {
				return err
			}

			msg, err := eng.Blame(cmd.Context(), args[0])
			if err != nil {
				return wrapEngineError(err)
			}

			if flags.JSON {
				return printJSON(msg)
			}

			created := time.Unix(0, msg.CreatedAt).Format(time.RFC3339)
			fmt.Printf("%s  %s  %s  by %s\n", msg.SnapshotID, created, msg.SnapshotMessage, msg.CreatedBy)

			return nil
		},
	}

	return cmd
}
