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

package heap

import (
	"encoding/binary"
	"sync"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/txn"
)

// Chunk is the per-chunk metadata access surface described in spec §4.3:
// each chunk type exposes block_size, block_offset, get_data, get_state,
// get_lock and prep_hdr. Re-implemented as a sum type over ChunkType (design
// note §9) instead of the source's vtable: the switch lives once, here,
// rather than being indirected through function pointers.
type Chunk struct {
	heap   *Heap
	zoneID uint32
	id     int // index into the zone's header table
	hdr    ChunkHeader

	mu *sync.Mutex // per-run mutex; nil for free/used (huge) chunks
}

// State returns the chunk's durable type.
func (c *Chunk) State() ChunkType { return c.hdr.Type }

// BlockSize returns the size, in bytes, of the addressable block this chunk
// (or run unit) represents. For a huge chunk this is the full span; for a
// run chunk it is a single unit's size.
func (c *Chunk) BlockSize() int64 {
	if c.hdr.Type == ChunkRun {
		return int64(c.hdr.UnitSize)
	}
	return int64(c.hdr.SizeIdx) * c.heap.layout.ChunkSize
}

// BlockOffset returns the offset of this chunk's data region.
func (c *Chunk) BlockOffset() pmem.Ref {
	return c.heap.layout.ChunkOffset(c.id)
}

// GetData returns the raw mapped bytes backing this chunk's data region.
func (c *Chunk) GetData() []byte {
	off := c.BlockOffset()
	return c.heap.ops.Data()[off : int64(off)+c.heap.layout.ChunkSize]
}

// GetLock returns the mutex serializing bitmap modifications within a run
// chunk. Returns nil for huge (free/used) chunks, which have no bitmap.
func (c *Chunk) GetLock() *sync.Mutex { return c.mu }

// PrepHeader is the sole channel through which allocation/free state is
// proposed (spec §4.3): it appends redo entries to ctx rather than writing
// directly, so the transition becomes durable only when ctx is committed.
func (c *Chunk) PrepHeader(newState ChunkType, sizeIdx uint32, unitSize uint16, ctx *txn.Context) error {
	hdrOff := c.heap.layout.HeaderOffset(c.id)
	var b [chunkHeaderSize]byte
	encodeChunkHeader(b[:], ChunkHeader{Type: newState, SizeIdx: sizeIdx, UnitSize: unitSize})

	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := binary.LittleEndian.Uint64(b[8:16])
	if err := ctx.Set(hdrOff, lo); err != nil {
		return err
	}
	if err := ctx.Set(hdrOff+8, hi); err != nil {
		return err
	}

	c.hdr = ChunkHeader{Type: newState, SizeIdx: sizeIdx, UnitSize: unitSize}
	return nil
}

// runBitmapWords is the number of 64-bit bitmap words needed to track
// numUnits occupancy bits, per spec §4.3 ("tracked by a 64-bit-word
// bitmap").
func runBitmapWords(numUnits int) int {
	return (numUnits + 63) / 64
}

// runBitmapOffset returns the offset, within the chunk's data region, of
// the occupancy bitmap. The bitmap occupies the first runBitmapWords*8
// bytes of the chunk; units begin immediately after.
func runBitmapOffset(chunkOff pmem.Ref) pmem.Ref { return chunkOff }

func runUnitsBase(chunkOff pmem.Ref, numUnits int) pmem.Ref {
	return chunkOff + pmem.Ref(runBitmapWords(numUnits)*8)
}

// unitOffset returns the offset of unit i's data within a run chunk.
func (c *Chunk) unitOffset(i int, numUnits int) pmem.Ref {
	base := runUnitsBase(c.BlockOffset(), numUnits)
	return base + pmem.Ref(i)*pmem.Ref(c.hdr.UnitSize)
}

// bitmapRead reports whether unit i is occupied.
func (c *Chunk) bitmapRead(i int) bool {
	off := runBitmapOffset(c.BlockOffset()) + pmem.Ref((i/64)*8)
	word := binary.LittleEndian.Uint64(c.heap.ops.Data()[off : off+8])
	return word&(1<<uint(i%64)) != 0
}

// bitmapSet queues a redo entry flipping unit i's occupancy bit to v,
// resolved via AND/OR against the durable bitmap word, per spec §4.3 and
// §4.2.
func (c *Chunk) bitmapSet(i int, v bool, ctx *txn.Context) error {
	off := runBitmapOffset(c.BlockOffset()) + pmem.Ref((i/64)*8)
	bit := uint64(1) << uint(i%64)
	if v {
		return ctx.Or(off, bit)
	}
	return ctx.And(off, ^bit)
}
