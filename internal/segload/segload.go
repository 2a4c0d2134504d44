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

// Package segload materialises ELF LOAD segments into the current
// address space (the Segment Mapper, C2) and resolves a PT_INTERP
// request by recursively loading the named interpreter (the
// Interpreter Resolver, C3).
package segload

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iatheiya/termuza/internal/elfimage"
	"github.com/iatheiya/termuza/internal/launcherr"
)

// rawMmapFixed issues the mmap(2) syscall directly. golang.org/x/sys/unix's
// Mmap wrapper always passes addr=0 and hands back a Go []byte, which
// cannot express MAP_FIXED at a caller-chosen address; the raw
// syscall is the same technique gVisor's own ptrace platform uses to
// place guest memory at fixed addresses.
func rawMmapFixed(addr, length uintptr, prot, flags int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func rawMprotect(addr, length uintptr, prot int) error {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, addr, length, uintptr(prot))
	if errno != 0 {
		return errno
	}
	return nil
}

func asSlice(addr uintptr, length int) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// Loaded is the result of mapping one image into the current address
// space.
type Loaded struct {
	Bias  uintptr // load bias added to every vaddr in the file
	Entry uintptr // load bias + header entry
	Phdr  uintptr // load bias + e_phoff, for the AT_PHDR aux entry
}

func alignDown(v, page uintptr) uintptr { return v &^ (page - 1) }
func alignUp(v, page uintptr) uintptr   { return alignDown(v+page-1, page) }

// Mapper's PageSize is resolved once by the caller (internal/config honours a
// test override); segload never calls unix.Getpagesize itself so
// tests can exercise non-4K page sizes deterministically.
type Mapper struct {
	PageSize uintptr
}

// Map reserves a contiguous range sized to fit every LOAD segment,
// then materialises each one: private anonymous writable pages,
// filled with exactly p_filesz bytes from the file and zeros for the
// remainder, finally reprotected to the segment's declared
// permissions.
func (m Mapper) Map(f *elfimage.File, h elfimage.Header, phdrs []elfimage.ProgramHeader) (Loaded, error) {
	var minVaddr uintptr = ^uintptr(0)
	var maxVaddr uintptr

	for _, ph := range phdrs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if uintptr(ph.Vaddr) < minVaddr {
			minVaddr = uintptr(ph.Vaddr)
		}
		if end := uintptr(ph.Vaddr + ph.Memsz); end > maxVaddr {
			maxVaddr = end
		}
	}
	if minVaddr > maxVaddr {
		return Loaded{}, fmt.Errorf("%w: no PT_LOAD segments", launcherr.ImageMalformed)
	}

	pageMin := alignDown(minVaddr, m.PageSize)
	pageMax := alignUp(maxVaddr, m.PageSize)
	total := pageMax - pageMin

	reservation, err := unix.Mmap(-1, 0, int(total), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return Loaded{}, fmt.Errorf("%w: reservation: %v", launcherr.MappingFailed, err)
	}
	var base uintptr
	if len(reservation) > 0 {
		base = uintptr(unsafe.Pointer(&reservation[0]))
	}

	var bias uintptr
	if h.Type == elf.ET_DYN {
		bias = base - pageMin
	} else {
		bias = 0
		if err := unix.Munmap(reservation); err != nil {
			return Loaded{}, fmt.Errorf("%w: releasing probe reservation: %v", launcherr.MappingFailed, err)
		}
	}

	for _, ph := range phdrs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if err := m.mapSegment(f, ph, bias); err != nil {
			return Loaded{}, err
		}
	}

	return Loaded{
		Bias:  bias,
		Entry: bias + uintptr(h.Entry),
		Phdr:  bias + uintptr(h.PHOff),
	}, nil
}

func (m Mapper) mapSegment(f *elfimage.File, ph elfimage.ProgramHeader, bias uintptr) error {
	segStart := bias + uintptr(ph.Vaddr)
	segEnd := segStart + uintptr(ph.Memsz)
	pageStart := alignDown(segStart, m.PageSize)
	pageEnd := alignUp(segEnd, m.PageSize)

	if err := rawMmapFixed(pageStart, pageEnd-pageStart, unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_FIXED|unix.MAP_ANONYMOUS); err != nil {
		return fmt.Errorf("%w: mapping segment at %#x: %v", launcherr.MappingFailed, pageStart, err)
	}

	offsetInPage := segStart - pageStart
	dst := asSlice(pageStart+offsetInPage, int(ph.Filesz))
	if _, err := f.ReadAt(dst, int64(ph.Offset)); err != nil {
		return fmt.Errorf("%w: reading segment contents: %v", launcherr.MappingFailed, err)
	}

	if ph.Memsz > ph.Filesz {
		bss := asSlice(pageStart+offsetInPage+uintptr(ph.Filesz), int(ph.Memsz-ph.Filesz))
		for i := range bss {
			bss[i] = 0
		}
	}

	prot := 0
	if ph.Flags&elf.PF_R != 0 {
		prot |= unix.PROT_READ
	}
	if ph.Flags&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if ph.Flags&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}
	if err := rawMprotect(pageStart, pageEnd-pageStart, prot); err != nil {
		return fmt.Errorf("%w: reprotecting segment: %v", launcherr.MappingFailed, err)
	}
	return nil
}

// Resolve implements the Interpreter Resolver (C3): if phdrs names a
// PT_INTERP path, that image is opened, validated, and mapped with
// its own bias; the jump target becomes the interpreter's entry. The
// image's own entry is still returned for the ENTRY aux entry.
func Resolve(m Mapper, f *elfimage.File, h elfimage.Header, phdrs []elfimage.ProgramHeader) (jumpTarget uintptr, image Loaded, interp *Loaded, err error) {
	image, err = m.Map(f, h, phdrs)
	if err != nil {
		return 0, Loaded{}, nil, err
	}

	interpPath, ok, err := f.Interp(phdrs)
	if err != nil {
		return 0, Loaded{}, nil, err
	}
	if !ok {
		return image.Entry, image, nil, nil
	}

	ifile, err := elfimage.Open(interpPath)
	if err != nil {
		return 0, Loaded{}, nil, fmt.Errorf("%w: opening interpreter %q: %v", launcherr.InterpreterMissing, interpPath, err)
	}
	defer ifile.Close()

	ih, err := ifile.ReadHeader()
	if err != nil {
		return 0, Loaded{}, nil, fmt.Errorf("%w: interpreter header: %v", launcherr.InterpreterMissing, err)
	}
	iphdrs, err := ifile.ReadProgramHeaders(ih)
	if err != nil {
		return 0, Loaded{}, nil, fmt.Errorf("%w: interpreter phdrs: %v", launcherr.InterpreterMissing, err)
	}
	iloaded, err := m.Map(ifile, ih, iphdrs)
	if err != nil {
		return 0, Loaded{}, nil, fmt.Errorf("%w: mapping interpreter: %v", launcherr.InterpreterMissing, err)
	}

	return iloaded.Entry, image, &iloaded, nil
}
