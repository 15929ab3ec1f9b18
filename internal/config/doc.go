// Package config loads and validates the borgsnap configuration file.
//
// The configuration is YAML, passed as a positional argument to every
// command. It names the datasets to back up, per-tier retention counts,
// the shared borg option set, the local and remote targets, the
// passphrase file, and optional pre/post hook executables.
//
// The passphrase itself never appears in the configuration file; it is
// read from the referenced passphrase file at load time and carried on
// the Config value as an unexported field.
//
// Example:
//
//	datasets:
//	  - name: tank/home
//	    recursive: true
//	keep:
//	  daily: 7
//	  weekly: 4
//	  monthly: 6
//	compression: zstd,9
//	passphrase_file: /etc/borgsnap/passphrase
//	local:
//	  enabled: true
//	  root: /backup/borg
//	remote:
//	  enabled: true
//	  address: backup@vault.example.com:/srv/borg
//	  mode: sftp
//	  borg_path: borg1
package config
