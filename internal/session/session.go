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

// Package session tracks the launcher's live children: a supplement
// to the distilled spec's single-shot (pid, master_fd) return value,
// grounded on the session bookkeeping the original Termux service
// layer kept per client.
package session

import (
	"os"
	"sync"
	"time"
)

// Session is the parent-visible handle for one launched target.
type Session struct {
	PID       int
	Master    *os.File
	StartedAt time.Time
}

// Registry is a thread-safe table of live sessions keyed by pid.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int]*Session)}
}

// Add records s in the registry.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.PID] = s
}

// Remove drops the session with the given pid, if present.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, pid)
}

// Get returns the session for pid, if still tracked.
func (r *Registry) Get(pid int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[pid]
	return s, ok
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
