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

package launcherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelSurvivesIs(t *testing.T) {
	err := fmt.Errorf("%w: bad magic", ImageMalformed)
	if !errors.Is(err, ImageMalformed) {
		t.Fatalf("errors.Is(%v, ImageMalformed) = false, want true", err)
	}
	if errors.Is(err, PtyUnavailable) {
		t.Fatalf("errors.Is(%v, PtyUnavailable) = true, want false", err)
	}
}

func TestFatalUnwrapsToKind(t *testing.T) {
	f := NewFatal(StackUnavailable, "arena exhausted at step 3")
	if !errors.Is(f, StackUnavailable) {
		t.Fatalf("errors.Is(Fatal, StackUnavailable) = false, want true")
	}
	if f.Error() != "arena exhausted at step 3" {
		t.Fatalf("Error() = %q, want %q", f.Error(), "arena exhausted at step 3")
	}
}
