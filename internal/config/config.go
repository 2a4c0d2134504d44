// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds launcher-wide tunables and the flag/file
// resolution that populates them, following the same two-layer
// pattern as the teacher's runsc/config package: flags registered on
// a FlagSet provide defaults, an optional file overrides them.
package config

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the launcher's resolved configuration.
type Config struct {
	// StackSize is the size, in bytes, of the fixed-size anonymous
	// stack region allocated for the target (spec.md §4.6 step 5).
	StackSize int64 `toml:"stack_size"`

	// PageSizeOverride forces the page size used by the Segment
	// Mapper instead of querying the host. Zero means "ask the host".
	// Exists so tests can exercise non-4K alignment arithmetic.
	PageSizeOverride int64 `toml:"page_size_override"`

	// PTYRows/PTYCols set the slave's initial window size.
	PTYRows uint16 `toml:"pty_rows"`
	PTYCols uint16 `toml:"pty_cols"`

	// LogFormat selects the applog emitter: "text" or "json".
	LogFormat string `toml:"log_format"`

	// LogLevel is one of logrus's level names ("debug", "info",
	// "warning", "error").
	LogLevel string `toml:"log_level"`
}

// Default returns the Config that Register's flags would produce
// with no overrides.
func Default() Config {
	return Config{
		StackSize:        8 * 1024 * 1024,
		PageSizeOverride: 0,
		PTYRows:          24,
		PTYCols:          80,
		LogFormat:        "text",
		LogLevel:         "info",
	}
}

// boundFlags holds the flag-package-native variables that Register
// binds; Resolve narrows these back into a Config after fs.Parse.
type boundFlags struct {
	ptyRows, ptyCols uint
}

// Register adds the launcher's flags to fs, defaulted from Default().
// Call Resolve after fs.Parse to obtain the populated Config.
func Register(fs *flag.FlagSet) (*Config, *boundFlags) {
	d := Default()
	c := &Config{}
	b := &boundFlags{}
	fs.Int64Var(&c.StackSize, "stack-size", d.StackSize, "size in bytes of the target's fabricated stack region.")
	fs.Int64Var(&c.PageSizeOverride, "page-size-override", d.PageSizeOverride, "override the host page size used for segment alignment (0 = ask the host).")
	fs.UintVar(&b.ptyRows, "pty-rows", uint(d.PTYRows), "initial pty row count.")
	fs.UintVar(&b.ptyCols, "pty-cols", uint(d.PTYCols), "initial pty column count.")
	fs.StringVar(&c.LogFormat, "log-format", d.LogFormat, "log format: text or json.")
	fs.StringVar(&c.LogLevel, "log-level", d.LogLevel, "log level: debug, info, warning, or error.")
	return c, b
}

// Resolve narrows the flag-native fields bound by Register back into
// c. Call after fs.Parse.
func Resolve(c *Config, b *boundFlags) {
	c.PTYRows = uint16(b.ptyRows)
	c.PTYCols = uint16(b.ptyCols)
}

// MergeFile overlays a TOML file's values onto c, following the same
// "flags first, file overrides" merge order the teacher's config
// package uses for OCI annotation overrides.
func MergeFile(c *Config, path string) error {
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("decoding config file %q: %w", path, err)
	}
	return nil
}
