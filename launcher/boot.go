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

package launcher

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/iatheiya/termuza/internal/archjump"
	"github.com/iatheiya/termuza/internal/elfimage"
	"github.com/iatheiya/termuza/internal/launcherr"
	"github.com/iatheiya/termuza/internal/ptyalloc"
	"github.com/iatheiya/termuza/internal/segload"
	"github.com/iatheiya/termuza/internal/stackbuild"
)

const defaultStackSize = 8 * 1024 * 1024

// RunBoot is the body of the freshly re-exec'd loader process: fd 3
// is the pty slave, fd 4 is the JSON-encoded bootRequest. It walks
// the state machine from spec.md §4.6 (StdioWired ->
// ImageValidated -> SegmentsMapped -> [InterpreterMapped] ->
// StackBuilt -> Jumped) and never returns on success -- the process
// image is replaced by the target's the instant archjump.Jump runs.
// Any failure here is fatal: log and exit(1), per spec.md §7.
func RunBoot(log *logrus.Logger) {
	slave := os.NewFile(3, "pty-slave")
	reqFile := os.NewFile(4, "boot-request")

	req, err := readBootRequest(reqFile)
	reqFile.Close()
	if err != nil {
		fatal(log, launcherr.NewFatal(launcherr.ImageMalformed, err.Error()))
	}

	pair := ptyalloc.Pair{Slave: slave}
	if err := pair.BecomeControllingTerminal(); err != nil {
		fatal(log, err)
	}
	// Stdio is now the pty slave (fd 3 has been closed after being
	// duplicated onto 0-2); the logger writes to os.Stderr, fd 2,
	// which refers to the slave, so fatal() below continues to reach
	// the parent's master after this point too.

	pageSize := int(unix.Getpagesize())
	if req.PageSizeOverride > 0 {
		pageSize = int(req.PageSizeOverride)
	}

	f, err := elfimage.Open(req.Path)
	if err != nil {
		fatal(log, err)
	}

	h, err := f.ReadHeader()
	if err != nil {
		fatal(log, err)
	}

	phdrs, err := f.ReadProgramHeaders(h)
	if err != nil {
		fatal(log, err)
	}

	mapper := segload.Mapper{PageSize: uintptr(pageSize)}
	jumpTarget, image, interp, err := segload.Resolve(mapper, f, h, phdrs)
	if err != nil {
		fatal(log, err)
	}
	f.Close()

	aux := buildAuxTemplate(h, image, interp, pageSize)

	stackSize := req.StackSize
	if stackSize <= 0 {
		stackSize = defaultStackSize
	}
	stackMem, err := unix.Mmap(-1, 0, int(stackSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_STACK)
	if err != nil {
		fatal(log, fmt.Errorf("%w: allocating %d-byte stack: %v", launcherr.StackUnavailable, stackSize, err))
	}
	stackBase := uintptr(unsafe.Pointer(&stackMem[0]))
	arena := stackbuild.NewArena(stackMem, stackBase)

	sp, err := stackbuild.Build(arena, req.Argv, req.Envp, aux)
	if err != nil {
		fatal(log, err)
	}

	archjump.Jump(sp, jumpTarget)
	// Unreachable: archjump.Jump never returns.
}

// buildAuxTemplate assembles the auxiliary-vector template per
// spec.md §4.4. RANDOM is left zero here; stackbuild.Build patches it
// to the address of the 16 random bytes it writes.
func buildAuxTemplate(h elfimage.Header, image segload.Loaded, interp *segload.Loaded, pageSize int) []stackbuild.AuxEntry {
	aux := []stackbuild.AuxEntry{
		{Tag: stackbuild.AtPHDR, Val: uint64(image.Phdr)},
		{Tag: stackbuild.AtPHNUM, Val: uint64(h.PHNum)},
		{Tag: stackbuild.AtPHENT, Val: uint64(h.PHEntSize)},
		{Tag: stackbuild.AtENTRY, Val: uint64(image.Entry)},
		{Tag: stackbuild.AtUID, Val: uint64(os.Getuid())},
		{Tag: stackbuild.AtEUID, Val: uint64(os.Geteuid())},
		{Tag: stackbuild.AtGID, Val: uint64(os.Getgid())},
		{Tag: stackbuild.AtEGID, Val: uint64(os.Getegid())},
		{Tag: stackbuild.AtSECURE, Val: 0},
		{Tag: stackbuild.AtPAGESZ, Val: uint64(pageSize)},
	}
	if interp != nil {
		aux = append(aux, stackbuild.AuxEntry{Tag: stackbuild.AtBASE, Val: uint64(interp.Bias)})
	}
	aux = append(aux,
		stackbuild.AuxEntry{Tag: stackbuild.AtFLAGS, Val: 0},
		stackbuild.AuxEntry{Tag: stackbuild.AtRANDOM, Val: 0},
	)
	return aux
}

// fatal logs err and terminates the process immediately. It never
// returns; callers write it as if it were a panic.
func fatal(log *logrus.Logger, err error) {
	log.WithError(err).Error("fatal loader error")
	os.Exit(1)
}
