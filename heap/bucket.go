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
	"sort"
	"sync"
)

// SizeClasses lists the run-bucket unit sizes, in ascending order. A
// requested (header-inclusive) size larger than the last class, or larger
// than half a chunk, is served from the huge bucket instead (spec §4.3).
var SizeClasses = []int64{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// span is a run of contiguous free chunks, volatile-only bookkeeping for
// the huge bucket.
type span struct {
	chunkID   int
	numChunks int
}

// runSlot tracks a run chunk's currently-free unit indices, volatile-only
// bookkeeping for a run bucket. freeList holds the actual free unit
// indices (not just a count) so BestFitUnit always hands out a slot the
// durable bitmap agrees is unoccupied, even after a non-sequential
// alloc/free pattern.
type runSlot struct {
	chunkID  int
	numUnits int
	freeList []int
}

// Bucket is the per-size-class free-block container described in spec
// §3.3: a mutex, a best-fit free-block container, and insert/best-fit
// policy methods. Buckets are rebuilt from durable chunk headers at pool
// open and discarded at close -- they are never persisted themselves.
type Bucket struct {
	mu sync.Mutex

	isHuge   bool
	unitSize int64 // 0 for the huge bucket

	spans []span    // huge bucket only, kept sorted by numChunks ascending
	runs  []runSlot // run bucket only
}

func newHugeBucket() *Bucket { return &Bucket{isHuge: true} }

func newRunBucket(unitSize int64) *Bucket { return &Bucket{unitSize: unitSize} }

// InsertSpan adds a free span of numChunks chunks starting at chunkID to a
// huge bucket, keeping spans sorted for best-fit lookup. Per spec §4.3,
// this is also where huge-free coalescing would merge adjacent spans
// before re-insertion; coalescing itself is performed by the caller (Heap),
// which holds the default bucket's lock for the duration (spec §4.3, §5.2).
func (b *Bucket) InsertSpan(chunkID, numChunks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertSpanLocked(chunkID, numChunks)
}

func (b *Bucket) insertSpanLocked(chunkID, numChunks int) {
	s := span{chunkID: chunkID, numChunks: numChunks}
	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].numChunks >= numChunks })
	b.spans = append(b.spans, span{})
	copy(b.spans[i+1:], b.spans[i:])
	b.spans[i] = s
}

// BestFitSpan removes and returns the smallest free span with at least
// numChunks chunks. ok is false on ENOMEM (spec §4.4 reservation phase).
func (b *Bucket) BestFitSpan(numChunks int) (chunkID int, gotChunks int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].numChunks >= numChunks })
	if i == len(b.spans) {
		return 0, 0, false
	}
	s := b.spans[i]
	b.spans = append(b.spans[:i], b.spans[i+1:]...)
	return s.chunkID, s.numChunks, true
}

// RemoveSpanExact removes a specific span inserted earlier, used to unwind
// a reservation whose constructor canceled (spec §4.4 step 2).
func (b *Bucket) RemoveSpanExact(chunkID, numChunks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.spans {
		if s.chunkID == chunkID && s.numChunks == numChunks {
			b.spans = append(b.spans[:i], b.spans[i+1:]...)
			return
		}
	}
}

// RegisterRun adds a run chunk with numUnits total units, all free, to a
// run bucket. Called when a new run chunk is carved from the huge bucket.
func (b *Bucket) RegisterRun(chunkID, numUnits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	free := make([]int, numUnits)
	for i := range free {
		free[i] = i
	}
	b.runs = append(b.runs, runSlot{chunkID: chunkID, numUnits: numUnits, freeList: free})
}

// MarkUnitOccupied removes unit i of chunkID from its run's free list,
// used when Open rebuilds the bucket from a durable bitmap that already
// has some units occupied.
func (b *Bucket) MarkUnitOccupied(chunkID, i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ri, r := range b.runs {
		if r.chunkID != chunkID {
			continue
		}
		for fi, u := range r.freeList {
			if u == i {
				b.runs[ri].freeList = append(r.freeList[:fi], r.freeList[fi+1:]...)
				return
			}
		}
	}
}

// BestFitUnit reserves one unit from the fullest run chunk that still has
// a free unit (packing tightly reduces the number of partially-used run
// chunks, the run-bucket analogue of best-fit). ok is false if every known
// run chunk is full; the caller must then carve a fresh run chunk from the
// huge bucket.
func (b *Bucket) BestFitUnit() (chunkID int, unitIdx int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := -1
	for i, r := range b.runs {
		if len(r.freeList) == 0 {
			continue
		}
		if best == -1 || len(b.runs[i].freeList) < len(b.runs[best].freeList) {
			best = i
		}
	}
	if best == -1 {
		return 0, 0, false
	}
	r := &b.runs[best]
	n := len(r.freeList) - 1
	unitIdx = r.freeList[n]
	r.freeList = r.freeList[:n]
	return r.chunkID, unitIdx, true
}

// ReleaseUnit returns unit i to chunkID's run free list.
func (b *Bucket) ReleaseUnit(chunkID, i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ri, r := range b.runs {
		if r.chunkID == chunkID {
			b.runs[ri].freeList = append(r.freeList, i)
			return
		}
	}
}

// RunIsEmpty reports whether chunkID's run has no allocated units left,
// i.e. it could be reclaimed back into the huge bucket. Callers holding
// the bucket lock around a free check this to decide whether to retire a
// run chunk entirely; this implementation keeps retired runs registered
// with a full free list rather than reclaiming them, trading a small
// amount of permanent run-chunk pinning for simplicity (see DESIGN.md).
func (b *Bucket) RunIsEmpty(chunkID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.runs {
		if r.chunkID == chunkID {
			return len(r.freeList) == r.numUnits
		}
	}
	return false
}

// sizeClassFor returns the smallest size class that fits want bytes
// (header-inclusive), and false if no run size class is large enough --
// the caller should fall back to the huge bucket.
func sizeClassFor(want int64) (int64, bool) {
	for _, c := range SizeClasses {
		if want <= c {
			return c, true
		}
	}
	return 0, false
}
