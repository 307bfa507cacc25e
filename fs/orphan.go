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

package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/nvmfs/pmemcore/heap"
	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/txn"
)

// Orphan-list page ("inode_array" in spec.md §6.1): mutex(64, a cache-line
// sized persistent lock word) · prev(16) · next(16) · used(8) · 249 ×
// inode-oid(16B each) · 8B pad — page-sized (4096B total). Pages form a
// doubly-linked chain so a slot can be removed without walking from the
// head; insertion always targets the first page with a free slot,
// allocating and linking a new one only when every existing page is full
// ("lazily grown, never shrunk", spec.md design note).
const (
	OrphanPageSize  = 4096
	orphanMutexSize = 64
	orphanSlotSize  = 16 // inode-oid stored in the low 8 bytes of a 16-byte slot
	orphanSlots     = 249

	orphanOffMutex = 0
	orphanOffPrev  = orphanOffMutex + orphanMutexSize
	orphanOffNext  = orphanOffPrev + 16
	orphanOffUsed  = orphanOffNext + 16
	orphanOffSlots = orphanOffUsed + 8
)

func readOrphanHeader(b []byte) (prev, next pmem.Ref, used uint64) {
	prev = pmem.Ref(binary.LittleEndian.Uint64(b[orphanOffPrev:]))
	next = pmem.Ref(binary.LittleEndian.Uint64(b[orphanOffNext:]))
	used = binary.LittleEndian.Uint64(b[orphanOffUsed:])
	return
}

func orphanSlotOffset(slot int) int { return orphanOffSlots + slot*orphanSlotSize }

// CreateOrphanPage allocates and zero-initializes one orphan-list page.
func CreateOrphanPage(ctx *txn.Context, h *heap.Heap, prev, next pmem.Ref) (pmem.Ref, error) {
	return h.Operation(ctx, 0, 0, OrphanPageSize, func(data []byte) error {
		binary.LittleEndian.PutUint64(data[orphanOffPrev:], uint64(prev))
		binary.LittleEndian.PutUint64(data[orphanOffNext:], uint64(next))
		binary.LittleEndian.PutUint64(data[orphanOffUsed:], 0)
		return nil
	})
}

// InsertOrphan records ino on the orphan-list page chain rooted at head,
// per spec.md's "insert-on-unlink-with-open-handles" rule: called when an
// inode's nlink drops to zero while at least one vinode handle still
// references it. Returns the (possibly newly created) head.
func InsertOrphan(ctx *txn.Context, h *heap.Heap, ops pmem.Ops, head pmem.Ref, ino pmem.Ref) (newHead pmem.Ref, err error) {
	newHead = head
	if head == 0 {
		p, cerr := CreateOrphanPage(ctx, h, 0, 0)
		if cerr != nil {
			return 0, cerr
		}
		newHead = p
	}

	var lastPage pmem.Ref
	for page := newHead; page != 0; {
		data := ops.Data()[page:]
		_, next, used := readOrphanHeader(data)
		if used < orphanSlots {
			slot := firstFreeOrphanSlot(data, used)
			off := orphanSlotOffset(slot)
			if err := ctx.Set(page+pmem.Ref(off), uint64(ino)); err != nil {
				return newHead, err
			}
			if err := ctx.Set(page+orphanOffUsed, used+1); err != nil {
				return newHead, err
			}
			return newHead, nil
		}
		lastPage = page
		page = next
	}

	newPage, err := CreateOrphanPage(ctx, h, lastPage, 0)
	if err != nil {
		return newHead, err
	}
	if err := ctx.Set(lastPage+orphanOffNext, uint64(newPage)); err != nil {
		return newHead, err
	}
	// The chain link above is only queued, so ino goes straight into slot 0
	// of the new page rather than through another walk of the chain.
	if err := ctx.Set(newPage+pmem.Ref(orphanSlotOffset(0)), uint64(ino)); err != nil {
		return newHead, err
	}
	if err := ctx.Set(newPage+orphanOffUsed, 1); err != nil {
		return newHead, err
	}
	return newHead, nil
}

func firstFreeOrphanSlot(data []byte, used uint64) int {
	for slot := 0; slot < orphanSlots; slot++ {
		off := orphanSlotOffset(slot)
		if binary.LittleEndian.Uint64(data[off:off+8]) == 0 {
			return slot
		}
	}
	return int(used) // unreachable if used < orphanSlots
}

// RemoveOrphan clears ino's slot, per spec.md's "remove-on-last-close"
// rule: called when the last open vinode handle on an orphaned (nlink==0)
// inode is dropped.
func RemoveOrphan(ctx *txn.Context, ops pmem.Ops, head pmem.Ref, ino pmem.Ref) error {
	for page := head; page != 0; {
		data := ops.Data()[page:]
		_, next, used := readOrphanHeader(data)
		for slot := 0; slot < orphanSlots; slot++ {
			off := orphanSlotOffset(slot)
			v := pmem.Ref(binary.LittleEndian.Uint64(data[off : off+8]))
			if v == ino {
				if err := ctx.Set(page+pmem.Ref(off), 0); err != nil {
					return err
				}
				return ctx.Set(page+orphanOffUsed, used-1)
			}
		}
		page = next
	}
	return fmt.Errorf("fs: orphan inode %d: %w", ino, pmerr.ErrNotFound)
}

// ListOrphans returns every occupied inode oid in the page chain rooted at
// head, in page/slot order.
func ListOrphans(ops pmem.Ops, head pmem.Ref) []pmem.Ref {
	var out []pmem.Ref
	for page := head; page != 0; {
		data := ops.Data()[page:]
		_, next, used := readOrphanHeader(data)
		seen := uint64(0)
		for slot := 0; slot < orphanSlots && seen < used; slot++ {
			off := orphanSlotOffset(slot)
			v := pmem.Ref(binary.LittleEndian.Uint64(data[off : off+8]))
			if v == 0 {
				continue
			}
			seen++
			out = append(out, v)
		}
		page = next
	}
	return out
}
