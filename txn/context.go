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

// Package txn implements the operation context and transaction scope that
// sit between palloc/the filesystem collaborator and the redo log: an
// append-only buffer of pending word writes for one logical transaction,
// and a scope object whose abort path unwinds volatile side effects without
// ever touching the redo log.
package txn

import (
	"fmt"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/redo"
)

// Kind distinguishes how an entry's value was derived.
type Kind int

const (
	// KindSet writes Value unconditionally.
	KindSet Kind = iota
	// KindAnd resolves to old & Value against the durable value at Offset.
	KindAnd
	// KindOr resolves to old | Value against the durable value at Offset.
	KindOr
)

// pending is one accumulated entry before AND/OR resolution.
type pending struct {
	offset uint64
	value  uint64
	kind   Kind
}

// Context accumulates redo entries belonging to one logical transaction and
// drives their commit through a redo.Log. It bounds the number of entries by
// the log's capacity; overflow is a programming error (spec §4.2) and fails
// the enclosing operation rather than silently truncating.
type Context struct {
	ops  pmem.Ops
	log  *redo.Log
	pend []pending
}

// NewContext creates an operation context bound to log, whose capacity
// bounds the number of entries this context may accumulate.
func NewContext(ops pmem.Ops, log *redo.Log) *Context {
	return &Context{ops: ops, log: log}
}

// Set queues a SET entry: *offset <- value.
func (c *Context) Set(offset pmem.Ref, value uint64) error {
	return c.push(uint64(offset), value, KindSet)
}

// And queues an AND entry: *offset <- (durable *offset) & mask.
func (c *Context) And(offset pmem.Ref, mask uint64) error {
	return c.push(uint64(offset), mask, KindAnd)
}

// Or queues an OR entry: *offset <- (durable *offset) | mask.
func (c *Context) Or(offset pmem.Ref, mask uint64) error {
	return c.push(uint64(offset), mask, KindOr)
}

func (c *Context) push(offset, value uint64, kind Kind) error {
	if len(c.pend) >= c.log.Capacity() {
		return fmt.Errorf("txn: context exceeds redo log capacity %d: %w", c.log.Capacity(), pmerr.ErrInvalidArgument)
	}
	c.pend = append(c.pend, pending{offset: offset, value: value, kind: kind})
	return nil
}

// Len returns the number of entries queued so far.
func (c *Context) Len() int { return len(c.pend) }

// Process finalizes the context per spec §4.2: it resolves AND/OR entries
// against the current durable value, marks the last entry with the finish
// flag (via redo.Log.Commit), and invokes the redo log commit. After
// success the context is cleared and may be reused.
func (c *Context) Process(check redo.CheckOffset) error {
	if len(c.pend) == 0 {
		return nil
	}

	entries := make([]redo.Entry, len(c.pend))
	for i, p := range c.pend {
		v := p.value
		switch p.kind {
		case KindAnd:
			v = c.readWord(p.offset) & p.value
		case KindOr:
			v = c.readWord(p.offset) | p.value
		}
		entries[i] = redo.Entry{Offset: p.offset, Value: v}
	}

	if err := c.log.Commit(entries, check); err != nil {
		return err
	}

	c.pend = c.pend[:0]
	return nil
}

func (c *Context) readWord(offset uint64) uint64 {
	b := c.ops.Data()[offset : offset+8]
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Reset discards accumulated entries without committing them. Used by
// Scope.Abort, so that none of an aborted transaction's entries reach the
// redo log.
func (c *Context) Reset() { c.pend = c.pend[:0] }
