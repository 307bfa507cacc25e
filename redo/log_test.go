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

package redo

import (
	"encoding/binary"
	"testing"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/stretchr/testify/require"
)

// memOps is an in-memory pmem.Ops stand-in for unit tests: no mmap, no
// file, just a byte slice. It lets tests simulate a crash by writing
// directly into the buffer between the "commit" and "recover" phases.
type memOps struct {
	buf []byte
}

func newMemOps(size int) *memOps { return &memOps{buf: make([]byte, size)} }

func (m *memOps) Memcpy(off pmem.Ref, src []byte) { copy(m.buf[off:], src) }
func (m *memOps) Memset(off pmem.Ref, b byte, n int) {
	dst := m.buf[off : int(off)+n]
	for i := range dst {
		dst[i] = b
	}
}
func (m *memOps) Flush(off pmem.Ref, n int)   {}
func (m *memOps) Drain()                      {}
func (m *memOps) Persist(off pmem.Ref, n int) {}
func (m *memOps) Data() []byte                { return m.buf }

var _ pmem.Ops = (*memOps)(nil)

func TestCommitThenRecoverReplaysIdempotently(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 8)

	target1 := uint64(2048)
	target2 := uint64(2056)

	err := l.Commit([]Entry{
		{Offset: target1, Value: 0xAAAAAAAAAAAAAAAA},
		{Offset: target2, Value: 0xBBBBBBBBBBBBBBBB},
	}, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(0xAAAAAAAAAAAAAAAA), binary.LittleEndian.Uint64(ops.buf[target1:]))
	require.Equal(t, uint64(0xBBBBBBBBBBBBBBBB), binary.LittleEndian.Uint64(ops.buf[target2:]))

	// Log must be empty after a successful commit.
	require.Equal(t, StateEmpty, l.Inspect())

	// Recovery on an already-empty log is a no-op.
	require.NoError(t, l.Recover(nil))
	require.Equal(t, uint64(0xAAAAAAAAAAAAAAAA), binary.LittleEndian.Uint64(ops.buf[target1:]))
}

func TestRecoverReplaysAfterCrashPastChecksum(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 8)

	target := uint64(1024)

	// Manually stage a committed-but-not-replayed log, simulating a crash
	// after the checksum write but before step 6 (the replay walk).
	entries := []Entry{{Offset: target | finishFlag, Value: 0x1234}}
	offCsum, valCsum := checksum(entries)

	binary.LittleEndian.PutUint64(ops.buf[64:], offCsum)
	binary.LittleEndian.PutUint64(ops.buf[72:], valCsum)
	binary.LittleEndian.PutUint64(ops.buf[80:], entries[0].Offset)
	binary.LittleEndian.PutUint64(ops.buf[88:], entries[0].Value)

	require.Equal(t, StateComplete, l.Inspect())

	require.NoError(t, l.Recover(nil))
	require.Equal(t, uint64(0x1234), binary.LittleEndian.Uint64(ops.buf[target:]))
	require.Equal(t, StateEmpty, l.Inspect())
}

func TestRecoverDiscardsTornLog(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 8)

	target := uint64(512)

	// Entries 1 written with a finish flag, but the checksum entry (0) was
	// never durably written to match it -- scenario 2 of spec §8 ("Torn
	// log": crash after writing payload entries, before the checksum).
	binary.LittleEndian.PutUint64(ops.buf[80:], target|finishFlag)
	binary.LittleEndian.PutUint64(ops.buf[88:], 0xDEAD)
	binary.LittleEndian.PutUint64(ops.buf[64:], 1)
	binary.LittleEndian.PutUint64(ops.buf[72:], 1)

	require.Equal(t, StateTorn, l.Inspect())

	require.NoError(t, l.Recover(nil))
	// No side effects observable: target was never written.
	require.Equal(t, uint64(0), binary.LittleEndian.Uint64(ops.buf[target:]))
	require.Equal(t, StateEmpty, l.Inspect())
}

func TestCommitRejectsOverCapacity(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 2)

	err := l.Commit([]Entry{
		{Offset: 100, Value: 1},
		{Offset: 108, Value: 2},
		{Offset: 116, Value: 3},
	}, nil)
	require.Error(t, err)
}

func TestCommitRejectsRecoveredOffsetOutsideRegion(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 8)

	check := func(off uint64) bool { return off < 2048 }

	err := l.Commit([]Entry{{Offset: 3000, Value: 1}}, check)
	require.Error(t, err)
}

func TestEmptyLogRecoverIsNoop(t *testing.T) {
	ops := newMemOps(4096)
	l := Open(ops, 64, 8)

	require.Equal(t, StateEmpty, l.Inspect())
	require.NoError(t, l.Recover(nil))
}
