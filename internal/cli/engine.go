package cli

import (
	"fmt"

	"github.com/hrdag/dsg/internal/config"
	"github.com/hrdag/dsg/internal/ignore"
	"github.com/hrdag/dsg/internal/lifecycle"
	"github.com/hrdag/dsg/internal/remotefs"
	"github.com/hrdag/dsg/internal/remotefs/plainfs"
	"github.com/hrdag/dsg/internal/remotefs/zfsdriver"
)

// buildEngine wires a lifecycle.Engine from a resolved configuration,
// selecting the remote backend by repository kind. The remote's
// current state is always read through its TransactionalFilesystem
// (GetManifest), never by scanning a mounted path directly, so no
// separate "remote root" is needed here.
func buildEngine(cc *CLIContext, localRoot string) (*lifecycle.Engine, error) {
	cfg := cc.Cfg

	if !cfg.IsLocalRemote() {
		return nil, &cliError{code: ExitTransportError, err: fmt.Errorf(
			"cli: repository host %q is not this host; remote backends reachable only over a transport are not yet wired into the lifecycle engine", cfg.Repository.Host)}
	}

	var remoteFS remotefs.TransactionalFilesystem

	switch cfg.Repository.Kind {
	case config.KindFilesystemXFS:
		remoteFS = plainfs.New(cfg.Repository.Path)

	case config.KindSnapshotZFS:
		remoteFS = zfsdriver.New(cfg.Repository.Pool, cfg.Repository.Dataset, cfg.Repository.Path)

	case config.KindContentAddressedP2P, config.KindCloudRelay:
		remoteFS = &remotefs.Unsupported{Kind: string(cfg.Repository.Kind)}

	default:
		return nil, &cliError{code: ExitConfigError, err: fmt.Errorf("cli: unknown repository kind %q", cfg.Repository.Kind)}
	}

	ig, err := ignore.Compile(ignore.Config{
		Basenames: []string{".DS_Store"},
	})
	if err != nil {
		return nil, &cliError{code: ExitInternal, err: err}
	}

	return &lifecycle.Engine{
		LocalRoot: localRoot,
		UserID:    cfg.UserID,
		Ignore:    ig,
		Normalize: cfg.Normalize,
		Remote:    remoteFS,
		Logger:    cc.Logger,
	}, nil
}
