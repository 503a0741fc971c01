// Package config loads a dsg repository's configuration: which
// backend kind its remote is, and the engine-wide settings (user ID,
// log level, normalization, concurrency). It follows the teacher's
// internal/config package in using github.com/BurntSushi/toml with
// explicit struct tags and a four-layer override chain (CLI flags >
// environment > config file > defaults), rather than introducing a
// second configuration format or a generic map-based loader.
package config

import "fmt"

// BackendKind discriminates the four repository kinds the
// specification names. Config decodes a BackendKind directly from the
// TOML `kind` field rather than inferring it from which optional
// fields are present, per the design notes' "no backend
// auto-detection" guidance.
type BackendKind string

const (
	KindSnapshotZFS         BackendKind = "snapshot_zfs"
	KindFilesystemXFS       BackendKind = "filesystem_xfs"
	KindContentAddressedP2P BackendKind = "content_addressed_p2p"
	KindCloudRelay          BackendKind = "cloud_relay"
)

func (k BackendKind) valid() bool {
	switch k {
	case KindSnapshotZFS, KindFilesystemXFS, KindContentAddressedP2P, KindCloudRelay:
		return true
	default:
		return false
	}
}

// Repository is the discriminated union of backend-specific settings.
// Only the fields relevant to Kind are meaningful; the others are
// ignored (and should be left unset) for any other kind.
type Repository struct {
	Kind BackendKind `toml:"kind"`

	// Host is the hostname the remote lives on. Empty means local; the
	// CLI refuses to build an engine for a non-empty Host.
	Host string `toml:"host,omitempty"`

	// snapshot_zfs
	Pool    string `toml:"pool,omitempty"`
	Dataset string `toml:"dataset,omitempty"`

	// filesystem_xfs (and the mounted path for snapshot_zfs once its
	// dataset exists)
	Path string `toml:"path,omitempty"`

	// content_addressed_p2p / cloud_relay: declared for forward
	// compatibility with the configuration surface; no backend
	// implements these kinds yet (see internal/remotefs.Unsupported).
	Endpoint string `toml:"endpoint,omitempty"`
}

// Config is the full repository configuration loaded from
// <meta>/config.toml.
type Config struct {
	Repository Repository `toml:"repository"`

	UserID      string `toml:"user_id"`
	LogLevel    string `toml:"log_level"`
	Normalize   bool   `toml:"normalize"`
	Concurrency int    `toml:"concurrency"`
}

// Validate checks structural invariants a Config must satisfy before
// the engine uses it.
func (c *Config) Validate() error {
	if !c.Repository.Kind.valid() {
		return fmt.Errorf("config: unknown repository kind %q", c.Repository.Kind)
	}

	if c.UserID == "" {
		return fmt.Errorf("config: user_id is required")
	}

	switch c.Repository.Kind {
	case KindSnapshotZFS:
		if c.Repository.Pool == "" || c.Repository.Dataset == "" {
			return fmt.Errorf("config: snapshot_zfs repository requires pool and dataset")
		}
	case KindFilesystemXFS:
		if c.Repository.Path == "" {
			return fmt.Errorf("config: filesystem_xfs repository requires path")
		}
	case KindContentAddressedP2P, KindCloudRelay:
		if c.Repository.Endpoint == "" {
			return fmt.Errorf("config: %s repository requires endpoint", c.Repository.Kind)
		}
	}

	return nil
}

// IsLocalRemote reports whether the repository's remote lives on the
// same host dsg is running on.
func (c *Config) IsLocalRemote() bool {
	return c.Repository.Host == ""
}
