package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List the repository's snapshot history",
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

			msgs, err := eng.Log(cmd.Context())
			if err != nil {
				return wrapEngineError(err)
			}

			if flags.JSON {
				return printJSON(msgs)
			}

			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				created := time.Unix(0, m.CreatedAt).Format(time.RFC3339)

				fmt.Printf("%s  %s  %s  (%d entries)\n", m.SnapshotID, created, m.SnapshotMessage, m.EntryCount)
			}

			return nil
		},
	}

	return cmd
}
