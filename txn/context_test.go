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

package txn_test

import (
	"encoding/binary"
	"testing"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/redo"
	"github.com/nvmfs/pmemcore/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOps struct{ buf []byte }

func newMemOps(size int) *memOps { return &memOps{buf: make([]byte, size)} }

func (m *memOps) Memcpy(off pmem.Ref, src []byte) { copy(m.buf[off:int(off)+len(src)], src) }
func (m *memOps) Memset(off pmem.Ref, b byte, n int) {
	for i := int(off); i < int(off)+n; i++ {
		m.buf[i] = b
	}
}
func (m *memOps) Flush(off pmem.Ref, n int) {}
func (m *memOps) Drain()                    {}
func (m *memOps) Persist(off pmem.Ref, n int) {}
func (m *memOps) Data() []byte              { return m.buf }

func (m *memOps) putWord(off uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	copy(m.buf[off:off+8], b[:])
}

func TestContextSetCommitsThroughRedo(t *testing.T) {
	ops := newMemOps(4096)
	log := redo.Open(ops, 0, 8)
	c := txn.NewContext(ops, log)

	require.NoError(t, c.Set(512, 0xDEADBEEF))
	require.NoError(t, c.Process(nil))

	got := binary.LittleEndian.Uint64(ops.Data()[512:520])
	assert.Equal(t, uint64(0xDEADBEEF), got)
	assert.Equal(t, 0, c.Len(), "context clears after a successful commit")
}

func TestContextAndOrResolveAgainstDurableValue(t *testing.T) {
	ops := newMemOps(4096)
	ops.putWord(512, 0xFF)
	log := redo.Open(ops, 0, 8)
	c := txn.NewContext(ops, log)

	require.NoError(t, c.And(512, 0x0F))
	require.NoError(t, c.Process(nil))
	assert.Equal(t, uint64(0x0F), binary.LittleEndian.Uint64(ops.Data()[512:520]))

	require.NoError(t, c.Or(512, 0xF0))
	require.NoError(t, c.Process(nil))
	assert.Equal(t, uint64(0xFF), binary.LittleEndian.Uint64(ops.Data()[512:520]))
}

func TestContextRejectsOverCapacity(t *testing.T) {
	ops := newMemOps(4096)
	log := redo.Open(ops, 0, 1)
	c := txn.NewContext(ops, log)

	require.NoError(t, c.Set(8, 1))
	assert.Error(t, c.Set(16, 2))
}

func TestScopeAbortRunsCallbacksLIFOWithoutTouchingRedo(t *testing.T) {
	ops := newMemOps(4096)
	log := redo.Open(ops, 0, 8)
	c := txn.NewContext(ops, log)
	s := txn.Begin(c, nil)

	var order []int
	s.OnAbort(func() { order = append(order, 1) })
	s.OnAbort(func() { order = append(order, 2) })
	require.NoError(t, c.Set(512, 42))

	s.Abort()

	assert.Equal(t, []int{2, 1}, order)
	assert.Equal(t, redo.StateEmpty, log.Inspect(), "abort never writes to the redo log")
}

func TestScopeDoneAbortsIfNotDecided(t *testing.T) {
	ops := newMemOps(4096)
	log := redo.Open(ops, 0, 8)
	c := txn.NewContext(ops, log)

	ran := false
	func() {
		s := txn.Begin(c, nil)
		defer s.Done()
		s.OnAbort(func() { ran = true })
	}()

	assert.True(t, ran)
}

func TestScopeCommitDiscardsAbortCallbacks(t *testing.T) {
	ops := newMemOps(4096)
	log := redo.Open(ops, 0, 8)
	c := txn.NewContext(ops, log)
	s := txn.Begin(c, nil)

	ran := false
	s.OnAbort(func() { ran = true })
	require.NoError(t, c.Set(512, 7))

	require.NoError(t, s.Commit())

	assert.False(t, ran)
}
