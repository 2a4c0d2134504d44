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

package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/iatheiya/termuza/internal/session"
)

// makeRaw puts fd into cooked-input-free raw mode, mirroring the
// classic termios cfmakeraw transform, and returns the previous state
// so the caller can restore it. Built directly on
// golang.org/x/sys/unix's termios ioctls rather than a higher-level
// terminal package, since nothing else in the dependency set pulls
// one in.
func makeRaw(fd int) (*unix.Termios, error) {
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	raw := *old
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, err
	}
	return old, nil
}

// pumpPTY wires the calling terminal's stdin/stdout to the session's
// pty master until the child exits, putting the local terminal into
// raw mode for the duration so the child sees every keystroke
// unmodified. It also forwards local window-size changes to the
// slave. Returns the error the child's Wait reported, if any.
func pumpPTY(ctx context.Context, sess *session.Session, done <-chan error) error {
	master := sess.Master
	stdinFd := int(os.Stdin.Fd())

	if old, err := makeRaw(stdinFd); err == nil {
		defer unix.IoctlSetTermios(stdinFd, unix.TCSETS, old)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if ws, err := unix.IoctlGetWinsize(stdinFd, unix.TIOCGWINSZ); err == nil {
				unix.IoctlSetWinsize(int(master.Fd()), unix.TIOCSWINSZ, ws)
			}
		}
	}()

	copyDone := make(chan struct{}, 2)
	go func() {
		io.Copy(master, os.Stdin)
		copyDone <- struct{}{}
	}()
	go func() {
		io.Copy(os.Stdout, master)
		copyDone <- struct{}{}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-copyDone:
		// The master side closed (child exited and its pty hung up)
		// before cmd.Wait() observed it; wait for the authoritative
		// exit status rather than returning early.
		return <-done
	}
}
