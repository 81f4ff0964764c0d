// Package config holds the small set of ambient knobs a parent process is
// expected to populate when embedding this module — spec.md §6's
// "Ambient CLI/config surface", supplied here as a plain struct since this
// module is a library, not a CLI binary (spec.md's Non-goals explicitly
// exclude the CLI itself).
package config

import (
	"os"
	"path/filepath"
)

// Config carries the ambient settings a parent binary assembles before
// wiring up a Runtime, Binlog, and TQueue.
type Config struct {
	// LogVerbosity selects the telemetry.Logger level (higher is noisier),
	// mirroring spec.md §6's verbosity flag.
	LogVerbosity int

	// BinlogPath is where the main event log is opened/created.
	BinlogPath string

	// RegressionDBPath, if non-empty, points at a secondary binlog used
	// only for recording/replaying regression fixtures.
	RegressionDBPath string
}

// FromEnv populates a Config's path defaults from the process environment,
// honoring TMPDIR for staging-file placement per spec.md §6 ("Environment.
// TMPDIR observed when producing staging files.").
func FromEnv() Config {
	dir := os.Getenv("TMPDIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return Config{
		LogVerbosity: 1,
		BinlogPath:   filepath.Join(dir, "tdcore.binlog"),
	}
}
