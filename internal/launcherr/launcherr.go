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

// Package launcherr defines the error taxonomy shared by every
// component of the launcher. Each sentinel identifies a kind of
// failure, not a concrete type; call sites wrap it with %w so that
// errors.Is continues to identify the kind across component
// boundaries.
package launcherr

import "errors"

var (
	// PtyUnavailable means the host denied pseudo-terminal allocation.
	PtyUnavailable = errors.New("pty unavailable")

	// ForkFailed means the host denied the clone that would have
	// produced the child.
	ForkFailed = errors.New("fork failed")

	// ImageOpenFailed means the target image file could not be opened
	// or read.
	ImageOpenFailed = errors.New("image open failed")

	// ImageMalformed means header validation, program-header count, or
	// program-header read failed.
	ImageMalformed = errors.New("image malformed")

	// InterpreterMissing means the PT_INTERP path could not be opened
	// or was itself malformed.
	InterpreterMissing = errors.New("interpreter missing")

	// MappingFailed means an mmap/mprotect/pread call failed while
	// materialising a segment.
	MappingFailed = errors.New("mapping failed")

	// StackUnavailable means the fixed-size stack region could not be
	// allocated.
	StackUnavailable = errors.New("stack unavailable")
)

// Fatal is raised on the child side of fork. It is never returned to
// the parent; the child logs it and exits immediately.
type Fatal struct {
	Kind error
	Msg  string
}

func (f *Fatal) Error() string {
	return f.Msg
}

func (f *Fatal) Unwrap() error {
	return f.Kind
}

// NewFatal wraps kind with a human-readable message describing where
// in the loader sequence the failure occurred.
func NewFatal(kind error, msg string) *Fatal {
	return &Fatal{Kind: kind, Msg: msg}
}
