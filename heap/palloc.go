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
	"fmt"
	"sync"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/txn"
)

// Heap is a single zone's allocator state: the durable chunk-header table
// plus the rebuilt volatile bucket index. A pool with multiple zones would
// hold one Heap per zone; this implementation carries a single zone, noted
// as a scoping decision in DESIGN.md.
type Heap struct {
	ops    pmem.Ops
	layout Layout
	zoneID uint32

	mu          sync.Mutex // guards runMu, bucket creation and pendingFree
	runMu       map[int]*sync.Mutex
	bucketHuge  *Bucket
	bucketsBy   map[int64]*Bucket // keyed by unit size
	pendingFree []pendingFree
}

// Create formats a fresh zone: every chunk is marked free and registered as
// one huge span in the bucket index. Formatting writes headers directly
// (not through the redo log) because the zone is not yet reachable from any
// durable root -- a crash mid-format simply means pool creation did not
// finish and is retried from scratch, matching the half-formatted handling
// of spec §3.2 invariant 5.
func Create(ops pmem.Ops, layout Layout, zoneID uint32) *Heap {
	for i := 0; i < layout.NumChunks; i++ {
		var b [chunkHeaderSize]byte
		encodeChunkHeader(b[:], ChunkHeader{Type: ChunkFree, SizeIdx: 0})
		ops.Memcpy(layout.HeaderOffset(i), b[:])
	}
	if layout.NumChunks > 0 {
		var b [chunkHeaderSize]byte
		encodeChunkHeader(b[:], ChunkHeader{Type: ChunkFree, SizeIdx: uint32(layout.NumChunks)})
		ops.Memcpy(layout.HeaderOffset(0), b[:])
	}
	ops.Persist(layout.HeaderOffset(0), layout.NumChunks*chunkHeaderSize)

	return Open(ops, layout, zoneID)
}

// Open rebuilds the volatile bucket index from durable chunk headers, per
// spec §3.3: "buckets are rebuilt from on-media state at pool open". It
// does not perform redo recovery; callers must call the pool's redo log
// Recover before Open, per spec §4.1.
func Open(ops pmem.Ops, layout Layout, zoneID uint32) *Heap {
	h := &Heap{
		ops:        ops,
		layout:     layout,
		zoneID:     zoneID,
		runMu:      make(map[int]*sync.Mutex),
		bucketHuge: newHugeBucket(),
		bucketsBy:  make(map[int64]*Bucket),
	}
	for _, c := range SizeClasses {
		h.bucketsBy[c] = newRunBucket(c)
	}

	for i := 0; i < layout.NumChunks; {
		hdr := readChunkHeader(ops.Data()[layout.HeaderOffset(i):])
		switch hdr.Type {
		case ChunkFree:
			// Adjacent free headers never get merged durably at free time
			// (only PostCommitFree merges them, and only volatilely), so a
			// zone can carry several back-to-back free spans; coalesce them
			// into one here rather than re-discovering fragmented spans on
			// every boot (spec §3.2 invariant 2).
			start := i
			span := headerSpan(hdr)
			i += span
			for i < layout.NumChunks {
				next := readChunkHeader(ops.Data()[layout.HeaderOffset(i):])
				if next.Type != ChunkFree {
					break
				}
				nspan := headerSpan(next)
				span += nspan
				i += nspan
			}
			h.bucketHuge.InsertSpan(start, span)
		case ChunkUsed:
			// A multi-chunk huge allocation only ever writes a header to its
			// head chunk (see allocateHuge); the tail chunks it covers carry
			// whatever was last written there and must never be reread as
			// their own span.
			i += headerSpan(hdr)
		case ChunkRun:
			h.runMu[i] = &sync.Mutex{}
			numUnits := runUnitsCount(layout.ChunkSize, hdr.UnitSize)
			b := h.bucketForUnitSize(int64(hdr.UnitSize))
			b.RegisterRun(i, numUnits)
			chunk := h.chunkAt(i, hdr)
			for u := 0; u < numUnits; u++ {
				if chunk.bitmapRead(u) {
					b.MarkUnitOccupied(i, u)
				}
			}
			i++
		default:
			i++
		}
	}
	return h
}

// headerSpan returns the chunk span a durable header covers, defending
// against a zero SizeIdx the way a never-written interior chunk would read.
func headerSpan(hdr ChunkHeader) int {
	span := int(hdr.SizeIdx)
	if span < 1 {
		span = 1
	}
	return span
}

func runUnitsCount(chunkSize int64, unitSize uint16) int {
	if unitSize == 0 {
		return 0
	}
	// Solve bitmapWords(n)*8 + n*unitSize <= chunkSize for the largest n.
	n := int(chunkSize / int64(unitSize))
	for runBitmapWords(n)*8+n*int(unitSize) > int(chunkSize) {
		n--
	}
	return n
}

func (h *Heap) chunkAt(id int, hdr ChunkHeader) *Chunk {
	return &Chunk{heap: h, zoneID: h.zoneID, id: id, hdr: hdr, mu: h.runMu[id]}
}

func (h *Heap) bucketForUnitSize(size int64) *Bucket {
	if b, ok := h.bucketsBy[size]; ok {
		return b
	}
	return h.bucketHuge
}

// chunksNeeded returns how many whole chunks a huge allocation of
// userSize bytes (plus AllocHeaderSize) needs.
func (h *Heap) chunksNeeded(userSize int64) int {
	total := userSize + AllocHeaderSize
	n := int((total + h.layout.ChunkSize - 1) / h.layout.ChunkSize)
	if n < 1 {
		n = 1
	}
	return n
}

// Constructor runs inside the reservation, before commit, to initialize
// user data. Returning an error cancels the allocation; per spec §4.4 no
// durable state has changed at that point, so cancellation is automatic.
type Constructor func(userData []byte) error

// Operation unifies malloc/free/realloc behind the single signature of
// spec §4.4. ctx accumulates the redo entries for this call; the caller is
// responsible for calling ctx.Process (typically via a txn.Scope) to make
// them durable -- Operation itself does not commit, so that a filesystem
// caller can fold several allocator mutations into one larger transaction.
func (h *Heap) Operation(ctx *txn.Context, existingOff pmem.Ref, destOffAddr pmem.Ref, size int64, ctor Constructor) (newOff pmem.Ref, err error) {
	switch {
	case size == 0 && existingOff == 0:
		return 0, nil // no-op
	case size == 0:
		return 0, h.free(ctx, existingOff)
	case existingOff == 0:
		return h.allocate(ctx, destOffAddr, size, ctor)
	default:
		return h.reallocate(ctx, existingOff, destOffAddr, size, ctor)
	}
}

// classOf decides whether a header-inclusive request of size bytes is
// served from a run bucket (returning its unit size) or the huge bucket,
// per spec §4.3's bucket selection. Shared by allocate and reallocate's
// fast-path check so the two never disagree about which bucket a given
// size belongs to.
func (h *Heap) classOf(size int64) (class int64, isRun bool) {
	class, ok := sizeClassFor(size)
	if !ok || size > h.layout.ChunkSize/2 {
		return 0, false
	}
	return class, true
}

// allocate is the reservation phase of spec §4.4.
func (h *Heap) allocate(ctx *txn.Context, destOffAddr pmem.Ref, size int64, ctor Constructor) (pmem.Ref, error) {
	class, isRun := h.classOf(size + AllocHeaderSize)
	if !isRun {
		return h.allocateHuge(ctx, destOffAddr, size, ctor)
	}
	return h.allocateRun(ctx, destOffAddr, size, ctor, class)
}

func (h *Heap) allocateHuge(ctx *txn.Context, destOffAddr pmem.Ref, size int64, ctor Constructor) (pmem.Ref, error) {
	need := h.chunksNeeded(size)

	chunkID, got, ok := h.bucketHuge.BestFitSpan(need)
	if !ok {
		return 0, fmt.Errorf("heap: no free span of >= %d chunks: %w", need, pmerr.ErrOutOfSpace)
	}

	userOff := h.layout.ChunkOffset(chunkID) + AllocHeaderSize
	totalSize := uint64(need) * uint64(h.layout.ChunkSize)

	if ctor != nil {
		userData := h.ops.Data()[userOff : uint64(h.layout.ChunkOffset(chunkID))+totalSize]
		if cerr := ctor(userData); cerr != nil {
			h.bucketHuge.InsertSpan(chunkID, got)
			return 0, fmt.Errorf("heap: constructor canceled: %w", pmerr.ErrCanceled)
		}
	}

	if got > need {
		remainder := h.chunkAt(chunkID+need, ChunkHeader{Type: ChunkFree, SizeIdx: uint32(got - need)})
		if err := remainder.PrepHeader(ChunkFree, uint32(got-need), 0, ctx); err != nil {
			h.bucketHuge.InsertSpan(chunkID, got)
			return 0, err
		}
		h.bucketHuge.InsertSpan(chunkID+need, got-need)
	}

	var hdrBuf [AllocHeaderSize]byte
	encodeAllocHeader(hdrBuf[:], AllocHeader{ChunkID: uint64(chunkID), Size: totalSize, ZoneID: h.zoneID})
	h.ops.Memcpy(h.layout.ChunkOffset(chunkID), hdrBuf[:])
	h.ops.Persist(h.layout.ChunkOffset(chunkID), AllocHeaderSize)

	chunk := h.chunkAt(chunkID, ChunkHeader{Type: ChunkFree, SizeIdx: uint32(got)})
	if err := chunk.PrepHeader(ChunkUsed, uint32(need), 0, ctx); err != nil {
		h.bucketHuge.InsertSpan(chunkID, need)
		return 0, err
	}

	if destOffAddr != 0 {
		if err := ctx.Set(destOffAddr, uint64(userOff)); err != nil {
			return 0, err
		}
	}

	return userOff, nil
}

func (h *Heap) allocateRun(ctx *txn.Context, destOffAddr pmem.Ref, size int64, ctor Constructor, unitSize int64) (pmem.Ref, error) {
	bucket := h.bucketForUnitSize(unitSize)

	chunkID, unitIdx, ok := bucket.BestFitUnit()
	if !ok {
		var err error
		chunkID, err = h.carveRunChunk(ctx, unitSize)
		if err != nil {
			return 0, err
		}
		bucket.RegisterRun(chunkID, runUnitsCount(h.layout.ChunkSize, uint16(unitSize)))
		chunkID, unitIdx, ok = bucket.BestFitUnit()
		if !ok {
			return 0, fmt.Errorf("heap: freshly carved run chunk has no free unit: %w", pmerr.ErrOutOfSpace)
		}
	}

	numUnits := runUnitsCount(h.layout.ChunkSize, uint16(unitSize))
	chunk := h.chunkAt(chunkID, ChunkHeader{Type: ChunkRun, SizeIdx: 1, UnitSize: uint16(unitSize)})

	h.mu.Lock()
	if chunk.mu == nil {
		chunk.mu = &sync.Mutex{}
		h.runMu[chunkID] = chunk.mu
	}
	h.mu.Unlock()
	chunk.mu.Lock()
	defer chunk.mu.Unlock()

	userOff := chunk.unitOffset(unitIdx, numUnits) + AllocHeaderSize

	if ctor != nil {
		userData := h.ops.Data()[userOff : int64(chunk.unitOffset(unitIdx, numUnits))+unitSize]
		if cerr := ctor(userData); cerr != nil {
			bucket.ReleaseUnit(chunkID, unitIdx)
			return 0, fmt.Errorf("heap: constructor canceled: %w", pmerr.ErrCanceled)
		}
	}

	var hdrBuf [AllocHeaderSize]byte
	encodeAllocHeader(hdrBuf[:], AllocHeader{ChunkID: uint64(chunkID), Size: uint64(unitSize), ZoneID: h.zoneID})
	h.ops.Memcpy(chunk.unitOffset(unitIdx, numUnits), hdrBuf[:])
	h.ops.Persist(chunk.unitOffset(unitIdx, numUnits), AllocHeaderSize)

	if err := chunk.bitmapSet(unitIdx, true, ctx); err != nil {
		bucket.ReleaseUnit(chunkID, unitIdx)
		return 0, err
	}

	if destOffAddr != 0 {
		if err := ctx.Set(destOffAddr, uint64(userOff)); err != nil {
			return 0, err
		}
	}

	return userOff, nil
}

// carveRunChunk reserves one whole chunk from the huge bucket and formats
// it as a fresh run chunk of the given unit size.
func (h *Heap) carveRunChunk(ctx *txn.Context, unitSize int64) (int, error) {
	chunkID, got, ok := h.bucketHuge.BestFitSpan(1)
	if !ok {
		return 0, fmt.Errorf("heap: no free chunk to carve a run from: %w", pmerr.ErrOutOfSpace)
	}
	if got > 1 {
		remainder := h.chunkAt(chunkID+1, ChunkHeader{Type: ChunkFree, SizeIdx: uint32(got - 1)})
		if err := remainder.PrepHeader(ChunkFree, uint32(got-1), 0, ctx); err != nil {
			h.bucketHuge.InsertSpan(chunkID, got)
			return 0, err
		}
		h.bucketHuge.InsertSpan(chunkID+1, got-1)
	}

	chunk := h.chunkAt(chunkID, ChunkHeader{Type: ChunkFree, SizeIdx: uint32(got)})
	if err := chunk.PrepHeader(ChunkRun, 1, uint16(unitSize), ctx); err != nil {
		h.bucketHuge.InsertSpan(chunkID, 1)
		return 0, err
	}

	h.mu.Lock()
	h.runMu[chunkID] = &sync.Mutex{}
	h.mu.Unlock()

	return chunkID, nil
}

// free is the deallocation phase of spec §4.4, used both for a pure free
// and for the old block of a realloc.
func (h *Heap) free(ctx *txn.Context, userOff pmem.Ref) error {
	ahdr := ReadAllocHeader(h.ops.Data(), userOff)
	chunkOff := userOff - AllocHeaderSize
	chunkID := int(ahdr.ChunkID)

	durHdr := readChunkHeader(h.ops.Data()[h.layout.HeaderOffset(chunkID):])

	if durHdr.Type == ChunkRun {
		h.mu.Lock()
		mu := h.runMu[chunkID]
		if mu == nil {
			mu = &sync.Mutex{}
			h.runMu[chunkID] = mu
		}
		h.mu.Unlock()
		mu.Lock()
		defer mu.Unlock()

		chunk := h.chunkAt(chunkID, durHdr)
		numUnits := runUnitsCount(h.layout.ChunkSize, durHdr.UnitSize)
		unitsBase := runUnitsBase(chunk.BlockOffset(), numUnits)
		unitIdx := int((chunkOff - unitsBase) / pmem.Ref(durHdr.UnitSize))

		if err := chunk.bitmapSet(unitIdx, false, ctx); err != nil {
			return err
		}
		h.bucketForUnitSize(int64(durHdr.UnitSize)).ReleaseUnit(chunkID, unitIdx)
		return nil
	}

	// Huge: coalesce with adjacent free chunks under the default bucket's
	// lock before re-insertion (spec §4.3, §5 rule 2).
	span := int(durHdr.SizeIdx)
	if span < 1 {
		span = 1
	}
	chunk := h.chunkAt(chunkID, durHdr)
	if err := chunk.PrepHeader(ChunkFree, uint32(span), 0, ctx); err != nil {
		return err
	}
	// Post-commit re-insertion (including coalescing) happens in the
	// caller via PostCommitFree, per spec §4.4's post-commit phase: the
	// block is durably free the moment ctx commits, but the bucket is
	// volatile-only and may lag a crash without harming correctness.
	h.mu.Lock()
	h.pendingFree = append(h.pendingFree, pendingFree{chunkID: chunkID, numChunks: span})
	h.mu.Unlock()
	return nil
}

type pendingFree struct {
	chunkID   int
	numChunks int
}

// PostCommitFree re-inserts every huge block freed since the previous
// PostCommitFree call into the huge bucket, coalescing adjacent free spans. Per spec §4.4,
// this must run only after ctx.Process has durably committed; a crash
// between commit and this call loses only the transient reclaim; the next
// Open rebuilds the bucket from durable state regardless.
func (h *Heap) PostCommitFree() {
	h.mu.Lock()
	pending := h.pendingFree
	h.pendingFree = nil
	h.mu.Unlock()

	h.bucketHuge.mu.Lock()
	for _, pf := range pending {
		h.coalesceAndInsertLocked(pf.chunkID, pf.numChunks)
	}
	h.bucketHuge.mu.Unlock()
}

// coalesceAndInsertLocked must be called with bucketHuge.mu held.
func (h *Heap) coalesceAndInsertLocked(chunkID, numChunks int) {
	start, span := chunkID, numChunks

	// Merge with a free span immediately to the left, if any is registered.
	for i, s := range h.bucketHuge.spans {
		if s.chunkID+s.numChunks == start {
			h.bucketHuge.spans = append(h.bucketHuge.spans[:i], h.bucketHuge.spans[i+1:]...)
			start = s.chunkID
			span += s.numChunks
			break
		}
	}
	// Merge with a free span immediately to the right, if any.
	for i, s := range h.bucketHuge.spans {
		if start+span == s.chunkID {
			h.bucketHuge.spans = append(h.bucketHuge.spans[:i], h.bucketHuge.spans[i+1:]...)
			span += s.numChunks
			break
		}
	}

	h.bucketHuge.insertSpanLocked(start, span)
}

// reallocate implements spec §4.4's combined case, including the
// same-size-class fast path.
func (h *Heap) reallocate(ctx *txn.Context, existingOff pmem.Ref, destOffAddr pmem.Ref, size int64, ctor Constructor) (pmem.Ref, error) {
	old := ReadAllocHeader(h.ops.Data(), existingOff)
	oldUserSize := old.Size - AllocHeaderSize

	if class, isRun := h.classOf(size + AllocHeaderSize); isRun {
		if oldClass, oldIsRun := h.classOf(oldUserSize + AllocHeaderSize); oldIsRun && oldClass == class {
			return existingOff, nil // fast path: same size class, no durable change
		}
	}

	newOff, err := h.allocate(ctx, 0, size, ctor)
	if err != nil {
		return 0, err
	}

	n := oldUserSize
	if size < n {
		n = size
	}
	if n > 0 {
		src := h.ops.Data()[existingOff : existingOff+pmem.Ref(n)]
		dst := h.ops.Data()[newOff : newOff+pmem.Ref(n)]
		copy(dst, src)
		h.ops.Persist(newOff, int(n))
	}

	if err := h.free(ctx, existingOff); err != nil {
		return 0, err
	}

	if destOffAddr != 0 {
		if err := ctx.Set(destOffAddr, uint64(newOff)); err != nil {
			return 0, err
		}
	}

	return newOff, nil
}
