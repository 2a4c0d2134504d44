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

package segload

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/iatheiya/termuza/internal/elfimage"
)

// buildFixture assembles a two-segment AArch64 ELF64 executable: a
// R+X text segment with real bytes, and a R+W data segment whose
// memsz exceeds its filesz (a BSS tail) so the zero-fill path gets
// exercised.
func buildFixture(t *testing.T, etype elf.Type, textVaddr, dataVaddr uint64) string {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	const phnum = 2

	text := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	dataFilesz := uint64(8)
	dataMemsz := uint64(32) // 24 bytes of BSS tail

	phoff := uint64(ehdrSize)
	textOff := phoff + phnum*phdrSize
	dataOff := textOff + uint64(len(text))

	buf := make([]byte, dataOff+dataFilesz)
	order := binary.LittleEndian

	copy(buf[0:4], elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	order.PutUint16(buf[16:18], uint16(etype))
	order.PutUint16(buf[18:20], uint16(elf.EM_AARCH64))
	order.PutUint64(buf[24:32], textVaddr)
	order.PutUint64(buf[32:40], phoff)
	order.PutUint16(buf[54:56], phdrSize)
	order.PutUint16(buf[56:58], phnum)

	writePhdr := func(i int, typ elf.ProgType, flags elf.ProgFlag, offset, vaddr, filesz, memsz uint64) {
		off := int(phoff) + i*phdrSize
		order.PutUint32(buf[off:off+4], uint32(typ))
		order.PutUint32(buf[off+4:off+8], uint32(flags))
		order.PutUint64(buf[off+8:off+16], offset)
		order.PutUint64(buf[off+16:off+24], vaddr)
		order.PutUint64(buf[off+32:off+40], filesz)
		order.PutUint64(buf[off+40:off+48], memsz)
		order.PutUint64(buf[off+48:off+56], 0x1000)
	}
	writePhdr(0, elf.PT_LOAD, elf.PF_R|elf.PF_X, textOff, textVaddr, uint64(len(text)), uint64(len(text)))
	writePhdr(1, elf.PT_LOAD, elf.PF_R|elf.PF_W, dataOff, dataVaddr, dataFilesz, dataMemsz)

	copy(buf[textOff:], text)
	copy(buf[dataOff:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	path := filepath.Join(t.TempDir(), "fixture.elf")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestMapETDynSegmentsContainExpectedBytes(t *testing.T) {
	// Non-overlapping, page-spaced vaddrs within a PIE image.
	const textVaddr = 0x10000
	const dataVaddr = 0x20000
	path := buildFixture(t, elf.ET_DYN, textVaddr, dataVaddr)

	f, err := elfimage.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	h, err := f.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	phdrs, err := f.ReadProgramHeaders(h)
	if err != nil {
		t.Fatalf("ReadProgramHeaders: %v", err)
	}

	m := Mapper{PageSize: 0x1000}
	loaded, err := m.Map(f, h, phdrs)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	textAddr := loaded.Bias + uintptr(textVaddr)
	got := unsafe.Slice((*byte)(unsafe.Pointer(textAddr)), 8)
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("text byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}

	dataAddr := loaded.Bias + uintptr(dataVaddr)
	gotData := unsafe.Slice((*byte)(unsafe.Pointer(dataAddr)), 8)
	for i, want := range []byte{1, 2, 3, 4, 5, 6, 7, 8} {
		if gotData[i] != want {
			t.Fatalf("data byte %d = %#x, want %#x", i, gotData[i], want)
		}
	}

	// BSS tail (bytes 8..32 of the data segment) must be zero.
	bss := unsafe.Slice((*byte)(unsafe.Pointer(dataAddr+8)), 24)
	for i, b := range bss {
		if b != 0 {
			t.Fatalf("bss byte %d = %#x, want 0", i, b)
		}
	}
}

func TestMapETExecHasZeroBias(t *testing.T) {
	// A high canonical address, deliberately far from anything the Go
	// runtime itself maps, since ET_EXEC materialises segments with
	// MAP_FIXED at the literal vaddr and would clobber a collision.
	const base = 0x6f0000000000
	path := buildFixture(t, elf.ET_EXEC, base, base+0x10000)

	f, err := elfimage.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	h, err := f.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	phdrs, err := f.ReadProgramHeaders(h)
	if err != nil {
		t.Fatalf("ReadProgramHeaders: %v", err)
	}

	m := Mapper{PageSize: 0x1000}
	loaded, err := m.Map(f, h, phdrs)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if loaded.Bias != 0 {
		t.Fatalf("ET_EXEC bias = %#x, want 0", loaded.Bias)
	}
}
