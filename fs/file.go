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
	"github.com/nvmfs/pmemcore/txn"
)

// BlockArray is one page of a regular file's data-block extent list, per
// spec.md §6.1: "block_array (data-block extent list with next link)". It
// shares the count+next page header with Dir (pageHeaderSize); each slot is
// a fixed-size extent descriptor rather than a dirent.
//
// A file's contents are the logical concatenation of every extent in every
// page of the chain, in order, cut off at the owning inode's Size. The
// inode's LastBlockFill field is not updated by the write path.
const (
	extentSize     = 16 // offset(8) + length(8)
	BlockArraySize = 4096
	extentsPerPage = (BlockArraySize - pageHeaderSize) / extentSize

	// DataBlockSize is the fixed size of one allocated data extent. Writes
	// past the end of a file append whole DataBlockSize extents; where the
	// file's data ends is given by the owning inode's Size, not per-extent.
	DataBlockSize = 1 << 16 // 64 KiB
)

// Extent is one data-block descriptor: Offset is the pool-relative offset
// of a DataBlockSize-byte allocation, Length is always DataBlockSize today
// (spec.md does not require variable-length extents; fixed blocks keep
// offset arithmetic for Read/Write a plain division).
type Extent struct {
	Offset pmem.Ref
	Length uint64
}

func readExtent(b []byte) Extent {
	return Extent{
		Offset: pmem.Ref(binary.LittleEndian.Uint64(b[0:8])),
		Length: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func writeExtent(b []byte, e Extent) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(e.Offset))
	binary.LittleEndian.PutUint64(b[8:16], e.Length)
}

// CreateBlockArrayPage allocates and zero-initializes one extent-list page.
func CreateBlockArrayPage(ctx *txn.Context, h *heap.Heap, next pmem.Ref) (pmem.Ref, error) {
	return h.Operation(ctx, 0, 0, BlockArraySize, func(data []byte) error {
		writePageHeader(data, 0, next)
		return nil
	})
}

// ListExtents returns every extent in the page chain rooted at firstPage,
// in on-media order.
func ListExtents(ops pmem.Ops, firstPage pmem.Ref) []Extent {
	var out []Extent
	for page := firstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		for slot := uint64(0); slot < count; slot++ {
			off := pageHeaderSize + int(slot)*extentSize
			out = append(out, readExtent(data[off:]))
		}
		page = next
	}
	return out
}

// AppendExtent allocates a fresh DataBlockSize data block and records it as
// the next slot in the page chain rooted at firstPage, allocating and
// chaining a new page if the tail page is full. Returns the (possibly
// newly created) firstPage and the new extent's data offset.
func AppendExtent(ctx *txn.Context, h *heap.Heap, ops pmem.Ops, firstPage pmem.Ref) (newFirstPage pmem.Ref, dataOff pmem.Ref, err error) {
	newFirstPage = firstPage
	if firstPage == 0 {
		p, cerr := CreateBlockArrayPage(ctx, h, 0)
		if cerr != nil {
			return 0, 0, cerr
		}
		newFirstPage = p
	}

	dataOff, err = h.Operation(ctx, 0, 0, DataBlockSize, nil)
	if err != nil {
		return newFirstPage, 0, err
	}

	var lastPage pmem.Ref
	for page := newFirstPage; page != 0; {
		data := ops.Data()[page:]
		count, next := readPageHeader(data)
		if count < uint64(extentsPerPage) {
			off := pageHeaderSize + int(count)*extentSize
			var buf [extentSize]byte
			writeExtent(buf[:], Extent{Offset: dataOff, Length: DataBlockSize})
			ops.Memcpy(page+pmem.Ref(off), buf[:])
			ops.Persist(page+pmem.Ref(off), extentSize)
			if err := ctx.Set(page, count+1); err != nil {
				return newFirstPage, 0, err
			}
			return newFirstPage, dataOff, nil
		}
		lastPage = page
		page = next
	}

	newPage, err := CreateBlockArrayPage(ctx, h, 0)
	if err != nil {
		return newFirstPage, 0, err
	}
	if err := ctx.Set(lastPage+8, uint64(newPage)); err != nil {
		return newFirstPage, 0, err
	}

	data := ops.Data()[newPage:]
	_, _ = readPageHeader(data)
	var buf [extentSize]byte
	writeExtent(buf[:], Extent{Offset: dataOff, Length: DataBlockSize})
	ops.Memcpy(newPage+pageHeaderSize, buf[:])
	ops.Persist(newPage+pageHeaderSize, extentSize)
	if err := ctx.Set(newPage, 1); err != nil {
		return newFirstPage, 0, err
	}
	return newFirstPage, dataOff, nil
}

// ReadAt reads up to len(p) bytes of a file's logical contents starting at
// offset, given its extent chain and current logical size. The read is cut
// short at size (and at the end of the extent chain), and a short read
// returns a nil error rather than io.EOF, unlike os.File.ReadAt.
func ReadAt(ops pmem.Ops, extents []Extent, size int64, p []byte, offset int64) (n int, err error) {
	if offset >= size {
		return 0, nil
	}
	if int64(len(p))+offset > size {
		p = p[:size-offset]
	}
	for len(p) > 0 {
		blockIdx := offset / DataBlockSize
		blockOff := offset % DataBlockSize
		if int(blockIdx) >= len(extents) {
			break
		}
		e := extents[blockIdx]
		avail := int64(e.Length) - blockOff
		want := int64(len(p))
		if want > avail {
			want = avail
		}
		copy(p[:want], ops.Data()[e.Offset+pmem.Ref(blockOff):e.Offset+pmem.Ref(blockOff)+pmem.Ref(want)])
		p = p[want:]
		offset += want
		n += int(want)
	}
	return n, nil
}

// WriteAt writes p into the extent chain starting at offset, appending new
// DataBlockSize extents through AppendExtent as needed. The caller is
// responsible for updating the owning inode's Size via ctx
// once WriteAt returns, as part of the same transaction.
func WriteAt(ctx *txn.Context, h *heap.Heap, ops pmem.Ops, firstPage pmem.Ref, p []byte, offset int64) (newFirstPage pmem.Ref, n int, err error) {
	newFirstPage = firstPage
	extents := ListExtents(ops, firstPage)

	for len(p) > 0 {
		blockIdx := offset / DataBlockSize
		blockOff := offset % DataBlockSize

		for int64(len(extents)) <= blockIdx {
			fp, dataOff, aerr := AppendExtent(ctx, h, ops, newFirstPage)
			if aerr != nil {
				return newFirstPage, n, fmt.Errorf("fs: extend file: %w", aerr)
			}
			newFirstPage = fp
			extents = append(extents, Extent{Offset: dataOff, Length: DataBlockSize})
		}

		e := extents[blockIdx]
		avail := int64(e.Length) - blockOff
		want := int64(len(p))
		if want > avail {
			want = avail
		}

		dst := e.Offset + pmem.Ref(blockOff)
		ops.Memcpy(dst, p[:want])
		ops.Persist(dst, int(want))

		p = p[want:]
		offset += want
		n += int(want)
	}
	return newFirstPage, n, nil
}
