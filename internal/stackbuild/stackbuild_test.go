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

package stackbuild

import (
	"encoding/binary"
	"testing"
)

func newTestArena(t *testing.T, size int) (*Arena, uintptr) {
	t.Helper()
	mem := make([]byte, size)
	// A fake base address, 16-byte aligned, far from anything real.
	const base = uintptr(0x40_0000_0000)
	return NewArena(mem, base), base
}

func readWord(t *testing.T, a *Arena, base uintptr, addr uintptr) uint64 {
	t.Helper()
	off := int(addr - base)
	return binary.LittleEndian.Uint64(a.mem[off : off+8])
}

func TestBuildFinalSPAlwaysAligned(t *testing.T) {
	cases := []struct {
		argv, envp []string
	}{
		{nil, nil},
		{[]string{"prog"}, nil},
		{[]string{"prog", "-x"}, []string{"HOME=/"}},
		{[]string{"prog"}, []string{"A=1", "B=2", "C=3"}},
		{[]string{"a", "b", "c", "d"}, []string{"E=1", "F=2"}},
	}
	for _, tc := range cases {
		a, base := newTestArena(t, 4096)
		aux := []AuxEntry{
			{Tag: AtPHDR, Val: 1},
			{Tag: AtRANDOM, Val: 0},
			{Tag: AtFLAGS, Val: 0},
		}
		sp, err := Build(a, tc.argv, tc.envp, aux)
		if err != nil {
			t.Fatalf("Build(%v, %v): %v", tc.argv, tc.envp, err)
		}
		if sp%16 != 0 {
			t.Fatalf("Build(%v, %v): sp %#x not 16-byte aligned", tc.argv, tc.envp, sp)
		}
		if sp < base || sp >= base+4096 {
			t.Fatalf("Build(%v, %v): sp %#x outside arena", tc.argv, tc.envp, sp)
		}
	}
}

func TestBuildArgcZero(t *testing.T) {
	a, base := newTestArena(t, 4096)
	sp, err := Build(a, nil, nil, []AuxEntry{{Tag: AtFLAGS, Val: 0}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	argc := readWord(t, a, base, sp)
	if argc != 0 {
		t.Fatalf("argc = %d, want 0", argc)
	}
}

func TestBuildArgvPointersAreNullTerminatedAndInRange(t *testing.T) {
	a, base := newTestArena(t, 4096)
	argv := []string{"one", "two", "three"}
	envp := []string{"X=1"}
	sp, err := Build(a, argv, envp, []AuxEntry{{Tag: AtFLAGS, Val: 0}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	argc := readWord(t, a, base, sp)
	if int(argc) != len(argv) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	argvArrayAddr := sp + 8
	for i := 0; i <= len(argv); i++ {
		ptr := readWord(t, a, base, argvArrayAddr+uintptr(8*i))
		if i == len(argv) {
			if ptr != 0 {
				t.Fatalf("argv[%d] (terminator) = %#x, want 0", i, ptr)
			}
			continue
		}
		if uintptr(ptr) < base || uintptr(ptr) >= base+4096 {
			t.Fatalf("argv[%d] = %#x outside arena", i, ptr)
		}
		off := int(uintptr(ptr) - base)
		end := off
		for end < len(a.mem) && a.mem[end] != 0 {
			end++
		}
		got := string(a.mem[off:end])
		if got != argv[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got, argv[i])
		}
	}
}

func TestBuildAuxRandomPatchedToWithinArena(t *testing.T) {
	a, base := newTestArena(t, 4096)
	aux := []AuxEntry{
		{Tag: AtPHDR, Val: 0x1000},
		{Tag: AtRANDOM, Val: 0}, // placeholder; Build must overwrite this
		{Tag: AtFLAGS, Val: 0},
	}
	sp, err := Build(a, []string{"p"}, nil, aux)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_ = sp

	// Scan the arena for the AT_RANDOM tag and confirm its value was
	// patched away from the zero placeholder to an in-arena address.
	found := false
	for i := 0; i+16 <= len(a.mem); i += 8 {
		tag := binary.LittleEndian.Uint64(a.mem[i : i+8])
		if AuxTag(tag) == AtRANDOM {
			val := binary.LittleEndian.Uint64(a.mem[i+8 : i+16])
			if val == 0 {
				t.Fatalf("AT_RANDOM value left at placeholder zero")
			}
			if uintptr(val) < base || uintptr(val) >= base+4096 {
				t.Fatalf("AT_RANDOM value %#x outside arena", val)
			}
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("AT_RANDOM entry not found in arena")
	}
}

func TestBuildArenaExhaustionFails(t *testing.T) {
	a, _ := newTestArena(t, 8)
	_, err := Build(a, []string{"a very long argument that will not fit"}, nil, nil)
	if err == nil {
		t.Fatalf("Build: want error on arena exhaustion, got nil")
	}
}
