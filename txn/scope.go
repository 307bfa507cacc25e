// Copyright 2025 Google LLC
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

package txn

import (
	"github.com/nvmfs/pmemcore/common"
	"github.com/nvmfs/pmemcore/redo"
)

// Scope is the reimplementation, per spec §9's design note, of the source's
// setjmp/longjmp transaction: a scoped object whose exit path either commits
// the accumulated redo entries or runs a registered callback queue in LIFO
// order to unwind volatile side effects (ref-count increments, lock
// acquisitions) -- without ever touching the redo log, per spec §4.5.
//
// Typical use:
//
//	s := txn.Begin(ctx, nil)
//	defer s.Done()
//	s.OnAbort(func() { vi.DecrementLookupCount(1) })
//	... accumulate ctx.Set/And/Or ...
type Scope struct {
	ctx     *Context
	check   redo.CheckOffset
	aborts  common.Stack[func()]
	decided bool
}

// Begin opens a transaction scope over ctx. check is passed through to the
// eventual redo log commit/recovery.
func Begin(ctx *Context, check redo.CheckOffset) *Scope {
	return &Scope{ctx: ctx, check: check, aborts: common.NewStack[func()]()}
}

// OnAbort registers fn to run, in LIFO order with every other registered
// callback, if this scope aborts instead of committing.
func (s *Scope) OnAbort(fn func()) {
	s.aborts.Push(fn)
}

// Commit finalizes the context through the redo log. On success, registered
// abort callbacks are discarded without running -- their side effects are
// now part of durable state, not something to unwind.
func (s *Scope) Commit() error {
	s.decided = true
	return s.ctx.Process(s.check)
}

// Abort discards accumulated (uncommitted) redo entries and runs every
// registered abort callback in LIFO order. No redo log record from this
// transaction is ever applied, per spec §4.5.
func (s *Scope) Abort() {
	s.decided = true
	s.ctx.Reset()
	for !s.aborts.IsEmpty() {
		s.aborts.Pop()()
	}
}

// Done is the deferred cleanup: if Commit or Abort was already called, it is
// a no-op. Otherwise it aborts -- an operation that returns an error without
// explicitly deciding the scope rolls back by default. It takes no error
// parameter: the decision is driven entirely by whether Commit ran, not by
// what the caller's named return happens to hold.
func (s *Scope) Done() {
	if s.decided {
		return
	}
	s.Abort()
}
