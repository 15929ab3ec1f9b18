// Package config provides configuration management for borgsnap using Viper.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/paths"
	"github.com/thoreinstein/borgsnap/pkg/fileutil"
)

// AppName is the application name used for env var prefixing.
const AppName = "borgsnap"

// Dataset is one backup unit: a ZFS dataset and, optionally, all of its
// descendants.
type Dataset struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Recursive bool   `mapstructure:"recursive" yaml:"recursive"`
}

// Keep holds the per-tier retention counts.
type Keep struct {
	Daily   int `mapstructure:"daily" yaml:"daily"`
	Weekly  int `mapstructure:"weekly" yaml:"weekly"`
	Monthly int `mapstructure:"monthly" yaml:"monthly"`
}

// LocalTarget is a borg repository tree on a local filesystem.
type LocalTarget struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Root    string `mapstructure:"root" yaml:"root"`
}

// RemoteTarget is a borg repository tree on a remote host.
type RemoteTarget struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`

	// Mode selects the directory-check transport: ssh or sftp.
	Mode string `mapstructure:"mode" yaml:"mode"`

	// BorgPath is the borg executable name on the remote host.
	BorgPath string `mapstructure:"borg_path" yaml:"borg_path"`

	// SSHKey is an identity file; empty uses the agent.
	SSHKey string `mapstructure:"ssh_key" yaml:"ssh_key"`
}

// Config is the top-level configuration for one borgsnap run.
type Config struct {
	// Recursive is the default for datasets that do not set their own
	// recursive flag.
	Recursive bool `mapstructure:"recursive" yaml:"recursive"`

	Datasets []Dataset `mapstructure:"datasets" yaml:"datasets"`
	Keep     Keep      `mapstructure:"keep" yaml:"keep"`

	Compression      string `mapstructure:"compression" yaml:"compression"`
	FilesCache       string `mapstructure:"files_cache" yaml:"files_cache"`
	ExcludeIfPresent string `mapstructure:"exclude_if_present" yaml:"exclude_if_present"`

	PassphraseFile string `mapstructure:"passphrase_file" yaml:"passphrase_file"`

	Local  LocalTarget  `mapstructure:"local" yaml:"local"`
	Remote RemoteTarget `mapstructure:"remote" yaml:"remote"`

	PreHook  string `mapstructure:"pre_hook" yaml:"pre_hook"`
	PostHook string `mapstructure:"post_hook" yaml:"post_hook"`

	// MountRoot is where capture working trees are exposed.
	MountRoot string `mapstructure:"mount_root" yaml:"mount_root"`

	// CommandTimeout bounds each local external operation.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`

	// RemoteTimeout bounds remote connection establishment and checks.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout" yaml:"remote_timeout"`

	// passphrase is loaded from PassphraseFile, never from the config
	// file itself, and deliberately unexported so it cannot be marshaled
	// back out.
	passphrase string
}

// Passphrase returns the repository passphrase read from PassphraseFile.
func (c *Config) Passphrase() string {
	return c.passphrase
}

// Load reads and validates the configuration file at path and loads the
// passphrase file when any target is enabled. Validation failures are
// joined into one error so the operator sees everything at once.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(AppName)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	// A dataset that says nothing about recursion inherits the global
	// default; an explicit per-dataset value wins either way.
	var raw struct {
		Datasets []struct {
			Recursive *bool `mapstructure:"recursive"`
		} `mapstructure:"datasets"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	for i := range cfg.Datasets {
		if i < len(raw.Datasets) && raw.Datasets[i].Recursive != nil {
			cfg.Datasets[i].Recursive = *raw.Datasets[i].Recursive
		} else {
			cfg.Datasets[i].Recursive = cfg.Recursive
		}
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errors.Wrap(errors.Join(errs...), "validating config")
	}

	if cfg.Local.Enabled || cfg.Remote.Enabled {
		pass, err := fileutil.ReadTrimmedLine(cfg.PassphraseFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading passphrase file %s", cfg.PassphraseFile)
		}
		if pass == "" {
			return nil, errors.Newf("passphrase file %s is empty", cfg.PassphraseFile)
		}
		cfg.passphrase = pass
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("compression", "lz4")
	v.SetDefault("files_cache", "ctime,size,inode")
	v.SetDefault("keep.daily", 7)
	v.SetDefault("keep.weekly", 4)
	v.SetDefault("keep.monthly", 6)
	v.SetDefault("remote.mode", "ssh")
	v.SetDefault("remote.borg_path", "borg")
	v.SetDefault("mount_root", paths.DefaultMountRoot)
	v.SetDefault("command_timeout", time.Hour)
	v.SetDefault("remote_timeout", 30*time.Second)
}
