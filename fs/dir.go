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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nvmfs/pmemcore/heap"
	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/txn"
)

// NameMax is the filename limit of spec.md §6.2: 255 bytes plus a nul
// terminator.
const NameMax = 255

// Dir is one page of a directory's variable-length dirent array, per
// spec.md §6.1: num_elements(8) · next(16) · dentries[...] (8-byte
// inode-oid + 256-byte name, last byte nul). The page header shape (count +
// next link) is shared with BlockArray; see pageHeaderSize.
const (
	pageHeaderSize = 24 // num_elements(8) + next(16, low 8 bytes used)

	direntSize      = 264 // inode-oid(8) + name(256)
	direntNameSize  = 256
	DirPageSize     = 3984 // page payload size, sized to hold a whole number of dirents
	dirPageCapacity = (DirPageSize - pageHeaderSize) / direntSize
)

func readPageHeader(b []byte) (count uint64, next pmem.Ref) {
	count = binary.LittleEndian.Uint64(b[0:8])
	next = pmem.Ref(binary.LittleEndian.Uint64(b[8:16]))
	return
}

func writePageHeader(b []byte, count uint64, next pmem.Ref) {
	binary.LittleEndian.PutUint64(b[0:8], count)
	binary.LittleEndian.PutUint64(b[8:16], uint64(next))
	binary.LittleEndian.PutUint64(b[16:24], 0) // reserved half of the 16-byte next slot
}

func direntSlotOffset(slot int) int { return pageHeaderSize + slot*direntSize }

func readDirent(b []byte) (ino pmem.Ref, name string) {
	ino = pmem.Ref(binary.LittleEndian.Uint64(b[0:8]))
	nameBytes := b[8 : 8+direntNameSize]
	n := bytes.IndexByte(nameBytes, 0)
	if n < 0 {
		n = direntNameSize
	}
	name = string(nameBytes[:n])
	return
}

// CreateDirPage allocates and zero-initializes one directory page, chained
// to next (NullRef for a fresh, standalone page).
func CreateDirPage(ctx *txn.Context, h *heap.Heap, next pmem.Ref) (pmem.Ref, error) {
	return h.Operation(ctx, 0, 0, DirPageSize, func(data []byte) error {
		writePageHeader(data, 0, next)
		return nil
	})
}

// LookupDirent scans the page chain rooted at firstPage for name, returning
// the inode oid it maps to.
func LookupDirent(ops pmem.Ops, firstPage pmem.Ref, name string) (pmem.Ref, bool) {
	if len(name) > NameMax {
		return 0, false
	}
	for page := firstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		seen := uint64(0)
		for slot := 0; slot < dirPageCapacity && seen < count; slot++ {
			off := direntSlotOffset(slot)
			ino, n := readDirent(data[off:])
			if ino == 0 {
				continue
			}
			seen++
			if n == name {
				return ino, true
			}
		}
		page = next
	}
	return 0, false
}

// AddDirent links name -> ino into the page chain rooted at firstPage,
// allocating and chaining a fresh page if every existing page is full.
// Returns the (possibly unchanged) firstPage, for the caller to persist
// into the owning directory inode's union if it allocated the very first
// page.
func AddDirent(ctx *txn.Context, h *heap.Heap, ops pmem.Ops, firstPage pmem.Ref, name string, ino pmem.Ref) (pmem.Ref, error) {
	if len(name) == 0 || len(name) > NameMax {
		return firstPage, fmt.Errorf("fs: name %q exceeds %d bytes: %w", name, NameMax, pmerr.ErrNameTooLong)
	}
	if firstPage == 0 {
		p, err := CreateDirPage(ctx, h, 0)
		if err != nil {
			return 0, err
		}
		firstPage = p
	}
	if _, found := LookupDirent(ops, firstPage, name); found {
		return firstPage, fmt.Errorf("fs: dirent %q: %w", name, pmerr.ErrExists)
	}

	var lastPage pmem.Ref
	for page := firstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		if count < uint64(dirPageCapacity) {
			slot := firstFreeSlot(data, count)
			off := direntSlotOffset(slot)

			var nameBuf [direntNameSize]byte
			copy(nameBuf[:], name)
			ops.Memcpy(page+pmem.Ref(off+8), nameBuf[:])
			ops.Persist(page+pmem.Ref(off+8), direntNameSize)

			if err := ctx.Set(page+pmem.Ref(off), uint64(ino)); err != nil {
				return firstPage, err
			}
			if err := ctx.Set(page, count+1); err != nil {
				return firstPage, err
			}
			return firstPage, nil
		}
		lastPage = page
		page = next
	}

	newPage, err := CreateDirPage(ctx, h, 0)
	if err != nil {
		return firstPage, err
	}
	if err := ctx.Set(lastPage+8, uint64(newPage)); err != nil {
		return firstPage, err
	}
	// The chain link above is only queued, so the entry goes straight into
	// slot 0 of the new page rather than through another walk of the chain.
	off := direntSlotOffset(0)
	var nameBuf [direntNameSize]byte
	copy(nameBuf[:], name)
	ops.Memcpy(newPage+pmem.Ref(off+8), nameBuf[:])
	ops.Persist(newPage+pmem.Ref(off+8), direntNameSize)
	if err := ctx.Set(newPage+pmem.Ref(off), uint64(ino)); err != nil {
		return firstPage, err
	}
	if err := ctx.Set(newPage, 1); err != nil {
		return firstPage, err
	}
	return firstPage, nil
}

// firstFreeSlot finds a zeroed (ino == 0) slot in a page with fewer than
// dirPageCapacity occupied entries. Occupied slots are packed from the
// front in the common case (append-only growth), so this is usually O(1).
func firstFreeSlot(data []byte, occupied uint64) int {
	for slot := 0; slot < dirPageCapacity; slot++ {
		off := direntSlotOffset(slot)
		if binary.LittleEndian.Uint64(data[off:off+8]) == 0 {
			return slot
		}
	}
	return int(occupied) // unreachable if occupied < capacity
}

// RemoveDirent clears the slot mapping name, if present, decrementing the
// page's occupied count. Pages are never freed back to the allocator once
// empty; a vacated page is simply available for future AddDirent calls.
func RemoveDirent(ctx *txn.Context, ops pmem.Ops, firstPage pmem.Ref, name string) error {
	for page := firstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		seen := uint64(0)
		for slot := 0; slot < dirPageCapacity && seen < count; slot++ {
			off := direntSlotOffset(slot)
			ino, n := readDirent(data[off:])
			if ino == 0 {
				continue
			}
			seen++
			if n == name {
				if err := ctx.Set(page+pmem.Ref(off), 0); err != nil {
					return err
				}
				return ctx.Set(page, count-1)
			}
		}
		page = next
	}
	return fmt.Errorf("fs: dirent %q: %w", name, pmerr.ErrNotFound)
}

// ListDirents returns every occupied (name, ino) pair in the page chain
// rooted at firstPage, in page/slot order. Used by Readdir; ordering is not
// stable across mutation, matching spec.md's silence on dirent ordering.
func ListDirents(ops pmem.Ops, firstPage pmem.Ref) []DirEntry {
	var out []DirEntry
	for page := firstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		seen := uint64(0)
		for slot := 0; slot < dirPageCapacity && seen < count; slot++ {
			off := direntSlotOffset(slot)
			ino, n := readDirent(data[off:])
			if ino == 0 {
				continue
			}
			seen++
			out = append(out, DirEntry{Name: n, Ino: ino})
		}
		page = next
	}
	return out
}

// DirEntry is one resolved (name, inode) pair returned by ListDirents.
type DirEntry struct {
	Name string
	Ino  pmem.Ref
}
