package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show each path's three-way classification without changing anything",
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

			states, err := eng.Status(cmd.Context())
			if err != nil {
				return wrapEngineError(err)
			}

			if flags.JSON {
				return printJSON(states)
			}

			for _, s := range states {
				marker := " "
				if s.State.IsConflict() {
					marker = "!"
				}

				fmt.Printf("%s %-24s %s\n", marker, s.State.String(), s.Path)
			}

			return nil
		},
	}

	return cmd
}
