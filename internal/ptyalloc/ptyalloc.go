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

// Package ptyalloc is the Pseudo-terminal Allocator, C5: it obtains a
// fresh master/slave pair and, in the child, attaches the slave as
// the controlling terminal. Built on github.com/kr/pty, the same
// dependency the teacher lists directly in its go.mod for console
// allocation.
package ptyalloc

import (
	"fmt"
	"os"

	"github.com/kr/pty"
	"golang.org/x/sys/unix"

	"github.com/iatheiya/termuza/internal/launcherr"
)

// Pair is spec.md's PtyPair: master and slave file descriptors for a
// freshly allocated pseudo-terminal. The slave's name is deliberately
// not exposed to callers.
type Pair struct {
	Master *os.File
	Slave  *os.File
}

// Open allocates a new pseudo-terminal pair.
func Open() (Pair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", launcherr.PtyUnavailable, err)
	}
	return Pair{Master: master, Slave: slave}, nil
}

// SetWinsize applies the initial window size to the slave side. A
// supplemented feature: the original Termux loader left this at the
// kernel default.
func (p Pair) SetWinsize(rows, cols uint16) error {
	ws := &unix.Winsize{Row: rows, Col: cols}
	return unix.IoctlSetWinsize(int(p.Slave.Fd()), unix.TIOCSWINSZ, ws)
}

// BecomeControllingTerminal is called in the child after fork. It
// closes the master (exclusively owned by the parent from this point
// on), starts a new session, acquires the slave as the controlling
// terminal, and duplicates it onto stdin/stdout/stderr, closing any
// higher-numbered reference as spec.md §4.5 requires.
func (p Pair) BecomeControllingTerminal() error {
	if p.Master != nil {
		if err := p.Master.Close(); err != nil {
			return fmt.Errorf("%w: closing master in child: %v", launcherr.PtyUnavailable, err)
		}
	}
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("%w: setsid: %v", launcherr.PtyUnavailable, err)
	}
	fd := int(p.Slave.Fd())
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return fmt.Errorf("%w: TIOCSCTTY: %v", launcherr.PtyUnavailable, err)
	}
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup3(fd, std, 0); err != nil {
			return fmt.Errorf("%w: dup2 slave to fd %d: %v", launcherr.PtyUnavailable, std, err)
		}
	}
	if fd > 2 {
		if err := p.Slave.Close(); err != nil {
			return fmt.Errorf("%w: closing extra slave reference: %v", launcherr.PtyUnavailable, err)
		}
	}
	return nil
}

// CloseSlaveInParent is called by the parent immediately after fork;
// the parent never observes the slave descriptor thereafter.
func (p Pair) CloseSlaveInParent() error {
	return p.Slave.Close()
}
