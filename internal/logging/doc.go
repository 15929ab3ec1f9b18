// Package logging provides structured logging for the borgsnap CLI.
//
// It builds on log/slog with a TTY-optimized text handler (colorized when
// the terminal supports it), a JSON handler for machine consumption, and a
// MultiHandler for fanning records out to both a terminal and a log file.
//
// Attribute keys that look like secrets (passphrase, key, token) are
// masked by the text handler before they reach the terminal.
//
// Verbosity flags map to levels via [LevelFromVerbosity]; a Trace level
// below Debug carries the full argument lists of external commands.
package logging
