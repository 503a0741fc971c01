package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hrdag/dsg/internal/lifecycle"
	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/remotefs"
)

func runOpts(kind plan.OperationKind, dryRun, force bool, message string) lifecycle.RunOpts {
	return lifecycle.RunOpts{Kind: kind, DryRun: dryRun, Force: force, SnapshotMessage: message}
}

// wrapEngineError classifies a lifecycle.Engine error into the
// exit-code taxonomy: conflicts exit 3, an unimplemented remote
// backend exits 4, and everything else exits 5.
func wrapEngineError(err error) error {
	if errors.Is(err, plan.ErrConflictsPresent) {
		return &cliError{code: ExitConflictsPresent, err: err}
	}

	if errors.Is(err, remotefs.ErrBackendNotImplemented) {
		return &cliError{code: ExitTransportError, err: err}
	}

	return &cliError{code: ExitInternal, err: err}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return &cliError{code: ExitInternal, err: fmt.Errorf("cli: encoding JSON output: %w", err)}
	}

	return nil
}

func currentWorkingTree() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", &cliError{code: ExitInternal, err: err}
	}

	return wd, nil
}

// walkDirs calls fn for root and every directory beneath it, skipping
// the reserved metadata directory.
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if d.Name() == lifecycle.MetaDirName {
			return filepath.SkipDir
		}

		return fn(path)
	})
}
