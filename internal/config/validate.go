package config

import (
	"strings"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/remote"
)

// Validation errors for configuration fields.
var (
	// ErrNoDatasets indicates the dataset list is empty.
	ErrNoDatasets = errors.New("at least one dataset is required")

	// ErrNoTargets indicates neither the local nor the remote target is enabled.
	ErrNoTargets = errors.New("at least one backup target must be enabled")

	// ErrInvalidDataset indicates a malformed dataset name.
	ErrInvalidDataset = errors.New("invalid dataset name")

	// ErrDuplicateDataset indicates a dataset is listed twice.
	ErrDuplicateDataset = errors.New("duplicate dataset")

	// ErrNegativeKeep indicates a retention count below zero.
	ErrNegativeKeep = errors.New("keep counts must be >= 0")
)

// Validate checks a Config for validity.
// Returns nil if valid, or a slice of validation errors.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{errors.New("config is nil")}
	}

	var errs []error

	if len(cfg.Datasets) == 0 {
		errs = append(errs, ErrNoDatasets)
	}
	seen := make(map[string]bool, len(cfg.Datasets))
	for _, ds := range cfg.Datasets {
		if !validDatasetName(ds.Name) {
			errs = append(errs, errors.Wrapf(ErrInvalidDataset, "%q", ds.Name))
		}
		if seen[ds.Name] {
			errs = append(errs, errors.Wrapf(ErrDuplicateDataset, "%q", ds.Name))
		}
		seen[ds.Name] = true
	}

	if cfg.Keep.Daily < 0 || cfg.Keep.Weekly < 0 || cfg.Keep.Monthly < 0 {
		errs = append(errs, ErrNegativeKeep)
	}

	if !cfg.Local.Enabled && !cfg.Remote.Enabled {
		errs = append(errs, ErrNoTargets)
	}

	if cfg.Local.Enabled && cfg.Local.Root == "" {
		errs = append(errs, errors.New("local target requires a root directory"))
	}

	if cfg.Remote.Enabled {
		if _, err := remote.ParseAddress(cfg.Remote.Address); err != nil {
			errs = append(errs, err)
		}
		if !remote.ValidMode(cfg.Remote.Mode) {
			errs = append(errs, errors.Newf("remote mode %q is not ssh or sftp", cfg.Remote.Mode))
		}
	}

	if (cfg.Local.Enabled || cfg.Remote.Enabled) && cfg.PassphraseFile == "" {
		errs = append(errs, errors.New("passphrase_file is required when a target is enabled"))
	}

	if cfg.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if cfg.RemoteTimeout <= 0 {
		errs = append(errs, errors.New("remote_timeout must be positive"))
	}

	return errs
}

// validDatasetName accepts pool/filesystem paths: no leading slash, no
// '@' (that separates snapshot labels), no whitespace.
func validDatasetName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	return !strings.ContainsAny(name, "@ \t\n")
}
