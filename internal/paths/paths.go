package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

// AppName is used for state and config directory naming.
const AppName = "borgsnap"

// LedgerFile is the name of the persisted mount ledger inside the state dir.
const LedgerFile = "mounts.toml"

// DefaultMountRoot is where snapshot working trees are exposed unless the
// configuration overrides it.
const DefaultMountRoot = "/run/borgsnap"

// StateDir returns the directory for persistent runtime state
// (the mount ledger). Follows the XDG base directory spec, so root
// gets /root/.local/state/borgsnap unless XDG_STATE_HOME is set.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// EnsureStateDir creates the state directory if needed and returns it.
func EnsureStateDir() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Wrap(err, "creating state directory")
	}
	return dir, nil
}

// LedgerPath returns the location of the mount ledger file.
func LedgerPath() string {
	return filepath.Join(StateDir(), LedgerFile)
}
