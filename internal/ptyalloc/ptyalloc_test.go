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

package ptyalloc

import "testing"

// TestOpenAndSetWinsize exercises the parts of the pty lifecycle that
// don't require becoming a session leader (BecomeControllingTerminal
// is exercised only by the boot child itself, since setsid requires
// not already being a process group leader, a precondition a test
// runner can't guarantee).
func TestOpenAndSetWinsize(t *testing.T) {
	p, err := Open()
	if err != nil {
		t.Skipf("pty allocation unavailable in this environment: %v", err)
	}
	defer p.Master.Close()
	defer p.Slave.Close()

	if p.Master == nil || p.Slave == nil {
		t.Fatalf("Open: got nil Master or Slave")
	}

	if err := p.SetWinsize(40, 120); err != nil {
		t.Fatalf("SetWinsize: %v", err)
	}
}

func TestCloseSlaveInParent(t *testing.T) {
	p, err := Open()
	if err != nil {
		t.Skipf("pty allocation unavailable in this environment: %v", err)
	}
	defer p.Master.Close()

	if err := p.CloseSlaveInParent(); err != nil {
		t.Fatalf("CloseSlaveInParent: %v", err)
	}
}
