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

// Package stackbuild fabricates the initial stack image a freshly
// jumped-to AArch64 entry point expects.
//
// The layout is built high-to-low by a single Arena so that every
// pointer written into the pointer arrays is computed only after the
// string bytes it targets have a final address: reserve string area,
// write strings, compute pointer values, write pointer arrays.
// Reordering this causes the target to observe dangling pointers.
package stackbuild

import (
	"crypto/rand"
	"fmt"

	"github.com/iatheiya/termuza/internal/launcherr"
)

// AuxTag identifies one auxiliary-vector entry. Values match the
// platform's AT_* constants.
type AuxTag uint64

const (
	AtNull   AuxTag = 0
	AtPHDR   AuxTag = 3
	AtPHENT  AuxTag = 4
	AtPHNUM  AuxTag = 5
	AtPAGESZ AuxTag = 6
	AtBASE   AuxTag = 7
	AtFLAGS  AuxTag = 8
	AtENTRY  AuxTag = 9
	AtUID    AuxTag = 11
	AtEUID   AuxTag = 12
	AtGID    AuxTag = 13
	AtEGID   AuxTag = 14
	AtSECURE AuxTag = 23
	AtRANDOM AuxTag = 25
)

// AuxEntry is one tagged word pair written into the auxiliary vector.
type AuxEntry struct {
	Tag AuxTag
	Val uint64
}

// Arena is a fixed-size byte buffer representing the memory region
// that will become the target's stack. Writes proceed from the top
// (high address) downward; sp always marks the lowest address
// written so far. Everything the fabricator allocates lives inside
// this single region, so nothing needs to be freed before the jump.
type Arena struct {
	mem []byte
	// base is the virtual address mem[0] corresponds to.
	base uintptr
	// sp is the offset into mem (from mem[0]) of the lowest byte
	// written so far. Starts at len(mem) and decreases.
	sp int
}

// NewArena wraps a pre-allocated byte slice backed at virtual address
// base (the caller maps this with PROT_READ|PROT_WRITE|MAP_STACK
// before calling NewArena; stackbuild never allocates memory itself).
func NewArena(mem []byte, base uintptr) *Arena {
	return &Arena{mem: mem, base: base, sp: len(mem)}
}

func (a *Arena) pad(align int) {
	addr := int(a.base) + a.sp
	rem := addr % align
	if rem != 0 {
		a.sp -= rem
	}
}

func (a *Arena) alloc(n int) (off int, addr uintptr, err error) {
	if a.sp-n < 0 {
		return 0, 0, fmt.Errorf("%w: arena exhausted", launcherr.StackUnavailable)
	}
	a.sp -= n
	return a.sp, a.base + uintptr(a.sp), nil
}

// SP returns the current stack pointer address.
func (a *Arena) SP() uintptr { return a.base + uintptr(a.sp) }

// Build lays out, from high to low address: the argv/envp string
// block (16-byte padded), 16 bytes of cryptographic randomness, the
// auxiliary vector (aux's RANDOM entry patched to point at those 16
// bytes, NULL-terminated), the envp pointer array (NULL-terminated),
// the argv pointer array (NULL-terminated), and finally the argc
// word. It returns the resulting stack pointer, which is always
// 16-byte aligned, as the AArch64 procedure call standard requires at
// any function entry point.
func Build(a *Arena, argv, envp []string, aux []AuxEntry) (uintptr, error) {
	// 1. String block, padded down to 16-byte alignment.
	argvAddrs := make([]uintptr, len(argv))
	envpAddrs := make([]uintptr, len(envp))

	// Strings are written back-to-front within the block but each
	// string's own bytes are contiguous and NUL-terminated; order of
	// the strings on the wire doesn't matter to the target, only that
	// each pointer refers to its own NUL-terminated bytes.
	for i := len(envp) - 1; i >= 0; i-- {
		b := append([]byte(envp[i]), 0)
		off, addr, err := a.alloc(len(b))
		if err != nil {
			return 0, err
		}
		copy(a.mem[off:], b)
		envpAddrs[i] = addr
	}
	for i := len(argv) - 1; i >= 0; i-- {
		b := append([]byte(argv[i]), 0)
		off, addr, err := a.alloc(len(b))
		if err != nil {
			return 0, err
		}
		copy(a.mem[off:], b)
		argvAddrs[i] = addr
	}
	a.pad(16)

	// The blocks from here down (random 16B, auxv 16*(n+1)B, both
	// always 16-aligned) are followed by the envp array, argv array,
	// and the argc word, whose combined size is 8*(envc+argc+3)
	// bytes — a multiple of 16 only when envc+argc is odd. When it is
	// even, pad here with one extra word so the final sp still lands
	// on a 16-byte boundary (spec.md §4.4: "the string block is
	// padded further before step 2").
	if (len(argv)+len(envp))%2 == 0 {
		if _, _, err := a.alloc(8); err != nil {
			return 0, err
		}
	}

	// 2. 16 bytes of randomness from a cryptographic source (spec.md
	// §9: never substitute a non-cryptographic generator — downstream
	// code seeds stack-protector canaries from this).
	randOff, randAddr, err := a.alloc(16)
	if err != nil {
		return 0, err
	}
	if _, err := rand.Read(a.mem[randOff : randOff+16]); err != nil {
		return 0, fmt.Errorf("%w: reading random bytes: %v", launcherr.StackUnavailable, err)
	}

	// 3. Auxiliary vector, RANDOM patched, NULL-terminated.
	auxWords := make([]uint64, 0, 2*(len(aux)+1))
	for _, e := range aux {
		val := e.Val
		if e.Tag == AtRANDOM {
			val = uint64(randAddr)
		}
		auxWords = append(auxWords, uint64(e.Tag), val)
	}
	auxWords = append(auxWords, uint64(AtNull), 0)
	if err := a.writeWords64(auxWords); err != nil {
		return 0, err
	}

	// 4. envp pointer array, NULL-terminated.
	envWords := make([]uint64, 0, len(envpAddrs)+1)
	for _, p := range envpAddrs {
		envWords = append(envWords, uint64(p))
	}
	envWords = append(envWords, 0)
	if err := a.writeWords64(envWords); err != nil {
		return 0, err
	}

	// 5. argv pointer array, NULL-terminated.
	argWords := make([]uint64, 0, len(argvAddrs)+1)
	for _, p := range argvAddrs {
		argWords = append(argWords, uint64(p))
	}
	argWords = append(argWords, 0)
	if err := a.writeWords64(argWords); err != nil {
		return 0, err
	}

	// 6. argc word.
	if err := a.writeWords64([]uint64{uint64(len(argv))}); err != nil {
		return 0, err
	}

	sp := a.SP()
	if sp%16 != 0 {
		return 0, fmt.Errorf("%w: final sp %#x not 16-byte aligned", launcherr.StackUnavailable, sp)
	}
	return sp, nil
}

// writeWords64 writes words as consecutive little-endian 8-byte
// words, lowest-indexed word at the lowest address, by allocating the
// whole block at once and filling it forward. This is the "pointer
// arrays"/"auxv" step: it must run only after every address it
// contains (string pointers, the random pointer) is already fixed.
func (a *Arena) writeWords64(words []uint64) error {
	off, addr, err := a.alloc(8 * len(words))
	if err != nil {
		return err
	}
	_ = addr
	for i, w := range words {
		putUint64LE(a.mem[off+8*i:], w)
	}
	return nil
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
