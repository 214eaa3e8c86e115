// Package storage resolves the on-disk directories the vault daemon uses
// for its databases, search index, and runtime state.
package storage

import (
	"os"
	"path/filepath"
)

// Dirs holds the resolved directory layout for one daemon instance.
// Construct with Resolve (XDG-aware) or point every field at a test
// temp directory; nothing in here is global.
type Dirs struct {
	Config string // user configuration (config.yaml, remote token)
	Data   string // persistent data (activity db, messages, search index)
	State  string // runtime state (pidfile, logs)
}

// Resolve returns platform-appropriate directories under the given
// application name, honoring XDG overrides. An explicit root overrides
// everything and nests config/data/state beneath it, which is what the
// `--data-dir` flag and tests use.
func Resolve(app, root string) *Dirs {
	if root != "" {
		return &Dirs{
			Config: filepath.Join(root, "config"),
			Data:   filepath.Join(root, "data"),
			State:  filepath.Join(root, "state"),
		}
	}

	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", ".config", app),
		Data:   resolveDir("XDG_DATA_HOME", ".local/share", app),
		State:  resolveDir("XDG_STATE_HOME", ".local/state", app),
	}
}

func resolveDir(envVar, homeFallback, app string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, app)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, homeFallback, app)
}

// EnsureAll creates every directory in the layout.
func (d *Dirs) EnsureAll() error {
	for _, dir := range []string{d.Config, d.Data, d.State} {
		if err := EnsureDir(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// DataPath joins a filename onto the data directory.
func (d *Dirs) DataPath(name string) string {
	return filepath.Join(d.Data, name)
}

// StatePath joins a filename onto the state directory.
func (d *Dirs) StatePath(name string) string {
	return filepath.Join(d.State, name)
}

// ConfigPath joins a filename onto the config directory.
func (d *Dirs) ConfigPath(name string) string {
	return filepath.Join(d.Config, name)
}

// EnsureDir creates a directory with the given permissions if missing.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}

// EnsureSensitiveDir creates a directory readable only by the owner,
// used for the credential store.
func EnsureSensitiveDir(path string) error {
	return EnsureDir(path, 0700)
}
