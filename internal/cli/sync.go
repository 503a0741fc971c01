package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fsnotify/fsnotify"

	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/progress"
)

func newSyncCmd() *cobra.Command {
	var (
		dryRun    bool
		force     bool
		normalize bool
		watch     bool
		message   string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the working tree against the cache and the remote",
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

			runOnce := func() error {
				report, err := eng.Run(cmd.Context(), runOpts(plan.KindSync, dryRun, force, message), sink)
				if err != nil {
					return wrapEngineError(err)
				}

				if flags.JSON {
					return printJSON(report)
				}

				switch {
				case report.NoOp:
					fmt.Println("sync: already up to date")
				case report.TxnResult != nil:
					fmt.Printf("sync: uploaded %d, downloaded %d, deleted %d, snapshot %s\n",
						report.TxnResult.Uploaded, report.TxnResult.Downloaded, report.TxnResult.Deleted, report.NewSnapID)
				default:
					fmt.Printf("sync: dry run — %d action(s) planned\n", report.Plan.TotalActions())
				}

				return nil
			}

			if !watch {
				return runOnce()
			}

			return watchAndSync(cc, wd, runOnce)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and plan without applying")
	cmd.Flags().BoolVar(&force, "force", false, "has no effect (conflicts always block)")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "auto-normalize non-NFC filenames instead of rejecting them")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run sync on every local filesystem event")
	cmd.Flags().StringVar(&message, "message", "", "snapshot message recorded for this sync")

	return cmd
}

// watchAndSync re-runs fn once for every event fsnotify reports under
// root. Events are not debounced or coalesced: a burst of N events
// runs N syncs.
func watchAndSync(cc *CLIContext, root string, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &cliError{code: ExitInternal, err: err}
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, root); err != nil {
		return &cliError{code: ExitInternal, err: err}
	}

	cc.Logger.Info("watching for changes", "root", root)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			cc.Logger.Debug("fs event", "name", event.Name, "op", event.Op.String())

			if err := fn(); err != nil {
				cc.Logger.Error("sync failed", "err", err)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			cc.Logger.Error("watch error", "err", werr)
		}
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return walkDirs(root, func(dir string) error {
		return watcher.Add(dir)
	})
}
