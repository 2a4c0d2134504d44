// Copyright 2018 The gVisor Authors.
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

// Command launch is the CLI front end for the native-binary
// launcher. Its structure -- subcommands.Command implementations
// registered on a shared flag.FlagSet, with a Config threaded through
// Execute -- mirrors the teacher's runsc/cli and runsc/cmd packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/iatheiya/termuza/internal/applog"
	"github.com/iatheiya/termuza/internal/config"
	"github.com/iatheiya/termuza/launcher"
)

func main() {
	// The parent re-execs itself with this hidden first argument to
	// reach a freshly exec'd, single-threaded process state safe to
	// drive the loader in (see the launcher package doc comment). This
	// must be checked before any flag/subcommand parsing.
	if len(os.Args) > 1 && os.Args[1] == launcher.BootArgName {
		log := applog.New("text", "info")
		launcher.RunBoot(log)
		// RunBoot does not return: it either jumps to the target or
		// logs a fatal error and calls os.Exit(1).
		return
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&runCommand{}, "")
	subcommands.Register(&configCommand{}, "")

	cfg, bound := config.Register(flag.CommandLine)
	flag.Parse()
	config.Resolve(cfg, bound)

	os.Exit(int(subcommands.Execute(context.Background(), cfg)))
}

// runCommand implements subcommands.Command for "run".
type runCommand struct {
	configFile string
}

func (*runCommand) Name() string     { return "run" }
func (*runCommand) Synopsis() string { return "load and run a native AArch64 executable in a pty" }
func (*runCommand) Usage() string {
	return "run [flags] -- PATH [ARGS...]\n"
}

func (r *runCommand) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&r.configFile, "config", "", "optional TOML config file overriding flag defaults.")
}

func (r *runCommand) Execute(ctx context.Context, fs *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, ok := args[0].(*config.Config)
	if !ok {
		fmt.Fprintln(os.Stderr, "internal error: missing config")
		return subcommands.ExitFailure
	}
	if err := config.MergeFile(cfg, r.configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return subcommands.ExitUsageError
	}

	path := fs.Arg(0)
	argv := fs.Args()
	envp := os.Environ()

	log := applog.New(cfg.LogFormat, cfg.LogLevel)
	l := launcher.New(*cfg, log)

	sess, done, err := l.Start(ctx, path, argv, envp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	log.WithField("pid", sess.PID).Info("session started")

	if err := pumpPTY(ctx, sess, done); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// configCommand implements subcommands.Command for "config", which
// prints the resolved Config -- the same config-dump path the
// teacher's runsc offers for debugging flag resolution.
type configCommand struct {
	configFile string
}

func (*configCommand) Name() string     { return "config" }
func (*configCommand) Synopsis() string { return "print the resolved configuration" }
func (*configCommand) Usage() string    { return "config [flags]\n" }

func (c *configCommand) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "optional TOML config file overriding flag defaults.")
}

func (c *configCommand) Execute(ctx context.Context, fs *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, ok := args[0].(*config.Config)
	if !ok {
		fmt.Fprintln(os.Stderr, "internal error: missing config")
		return subcommands.ExitFailure
	}
	if err := config.MergeFile(cfg, c.configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%+v\n", *cfg)
	return subcommands.ExitSuccess
}
