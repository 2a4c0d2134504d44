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

// Package archjump holds the one architecture-specific instruction
// sequence in the launcher: the final, non-returning transfer of
// control to a loaded image's entry point. This boundary is kept to
// the smallest possible slice of unsafe code; every other component
// is ordinary Go and never touches a register file directly.
package archjump

// Jump sets the stack pointer to sp, zeroes the general-purpose
// argument registers x0-x3 (other registers are left undefined; the
// ABI makes no guarantee about them at an entry point), and branches
// to target. It does not return: the calling goroutine's own stack
// becomes unreachable the instant this executes, so nothing in this
// package or its caller may hold Go-managed state that outlives the
// call.
//
// Implemented in jump_arm64.s.
func Jump(sp, target uintptr)
