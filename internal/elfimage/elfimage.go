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

// Package elfimage recognises and parses 64-bit little-endian AArch64
// ELF executables: the Image Validator and the header/program-header
// data model of the launcher core.
package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/iatheiya/termuza/internal/launcherr"
)

// Header identifies an object file. It mirrors spec.md's ImageHeader
// entity: only the fields the loader needs, not a full ELF header.
type Header struct {
	Type       elf.Type // ET_EXEC or ET_DYN
	Entry      uint64
	PHOff      uint64
	PHEntSize  uint16
	PHNum      uint16
}

// ProgramHeader is one entry from the program-header table, trimmed
// to the fields the loader acts on.
type ProgramHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// File is an open image, mmapped read-only so header and
// program-header parsing never needs explicit seek/read bookkeeping.
// Grounded on saferwall-pe's File.New, which mmaps the target binary
// and parses header structs directly out of the mapped bytes.
type File struct {
	f    *os.File
	data mmap.MMap
}

// Open mmaps path read-only. The caller must call Close.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", launcherr.ImageOpenFailed, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", launcherr.ImageOpenFailed, err)
	}
	return &File{f: f, data: data}, nil
}

// Close unmaps and closes the underlying file.
func (f *File) Close() error {
	err := f.data.Unmap()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadAt exposes the mapped bytes for pread-equivalent segment reads
// (used by the Segment Mapper). It follows io.ReaderAt's contract: a
// short read is always accompanied by a non-nil error.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(f.data) {
		return 0, fmt.Errorf("%w: offset %d out of range", launcherr.ImageMalformed, off)
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("%w: short read at offset %d: wanted %d bytes, got %d", launcherr.ImageMalformed, off, len(p), n)
	}
	return n, nil
}

const ehdrSize = 64 // sizeof(Elf64_Ehdr)

// ReadHeader validates the ELF magic/class/data/machine fields (the
// Image Validator, C1) and parses the remaining header fields. Checks
// run in the order spec.md §4.1 specifies: magic, class, endianness,
// machine.
func (f *File) ReadHeader() (Header, error) {
	if len(f.data) < ehdrSize {
		return Header{}, fmt.Errorf("%w: file too small for ELF header", launcherr.ImageMalformed)
	}
	ident := f.data[:elf.EI_NIDENT]

	if string(ident[:4]) != elf.ELFMAG {
		return Header{}, fmt.Errorf("%w: bad magic", launcherr.ImageMalformed)
	}
	if elf.Class(ident[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return Header{}, fmt.Errorf("%w: not ELFCLASS64", launcherr.ImageMalformed)
	}
	if elf.Data(ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return Header{}, fmt.Errorf("%w: not ELFDATA2LSB", launcherr.ImageMalformed)
	}

	order := binary.LittleEndian
	machine := elf.Machine(order.Uint16(f.data[18:20]))
	if machine != elf.EM_AARCH64 {
		return Header{}, fmt.Errorf("%w: not EM_AARCH64", launcherr.ImageMalformed)
	}

	h := Header{
		Type:      elf.Type(order.Uint16(f.data[16:18])),
		Entry:     order.Uint64(f.data[24:32]),
		PHOff:     order.Uint64(f.data[32:40]),
		PHEntSize: order.Uint16(f.data[54:56]),
		PHNum:     order.Uint16(f.data[56:58]),
	}
	if h.Type != elf.ET_EXEC && h.Type != elf.ET_DYN {
		return Header{}, fmt.Errorf("%w: unsupported object type %v", launcherr.ImageMalformed, h.Type)
	}
	return h, nil
}

const phdrEntSize = 56 // sizeof(Elf64_Phdr)

// ReadProgramHeaders reads the program-header table described by h.
// Invariant (spec.md §3): for LOAD entries, Memsz >= Filesz; the
// caller is responsible for the monotonic-vaddr invariant since that
// is only meaningful across LOAD entries together.
func (f *File) ReadProgramHeaders(h Header) ([]ProgramHeader, error) {
	if h.PHEntSize != 0 && h.PHEntSize != phdrEntSize {
		return nil, fmt.Errorf("%w: unexpected phentsize %d", launcherr.ImageMalformed, h.PHEntSize)
	}
	order := binary.LittleEndian
	phdrs := make([]ProgramHeader, 0, h.PHNum)
	for i := 0; i < int(h.PHNum); i++ {
		off := int64(h.PHOff) + int64(i)*phdrEntSize
		buf := make([]byte, phdrEntSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("%w: reading phdr %d: %v", launcherr.ImageMalformed, i, err)
		}
		ph := ProgramHeader{
			Type:   elf.ProgType(order.Uint32(buf[0:4])),
			Flags:  elf.ProgFlag(order.Uint32(buf[4:8])),
			Offset: order.Uint64(buf[8:16]),
			Vaddr:  order.Uint64(buf[16:24]),
			Filesz: order.Uint64(buf[32:40]),
			Memsz:  order.Uint64(buf[40:48]),
			Align:  order.Uint64(buf[48:56]),
		}
		if ph.Type == elf.PT_LOAD && ph.Memsz < ph.Filesz {
			return nil, fmt.Errorf("%w: LOAD segment %d has memsz < filesz", launcherr.ImageMalformed, i)
		}
		phdrs = append(phdrs, ph)
	}
	return phdrs, nil
}

// Interp returns the interpreter path named by a PT_INTERP entry, if
// any is present among phdrs.
func (f *File) Interp(phdrs []ProgramHeader) (path string, ok bool, err error) {
	for _, ph := range phdrs {
		if ph.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]byte, ph.Filesz)
		if _, err := f.ReadAt(buf, int64(ph.Offset)); err != nil {
			return "", false, fmt.Errorf("%w: reading INTERP: %v", launcherr.InterpreterMissing, err)
		}
		// The stored string is NUL-terminated; trim it.
		n := len(buf)
		for n > 0 && buf[n-1] == 0 {
			n--
		}
		return string(buf[:n]), true, nil
	}
	return "", false, nil
}
