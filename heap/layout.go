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

// Package heap implements the on-media zone/chunk/run layout and the
// transient bucket index described in spec §4.3 and §6.1, and unifies
// malloc/free/realloc into the single palloc_operation of spec §4.4.
package heap

import (
	"encoding/binary"

	"github.com/nvmfs/pmemcore/internal/pmem"
)

// Superblock sizes and offsets, per spec §6.1: version (8B) · root_inode_oid
// (16B) · orphaned_inodes_oid (16B) · initialized (1B) · padding to 4096B.
// PoolID extends the padding with a diagnostic instance identifier (design
// note §9 domain-stack wiring); it does not replace any §6.1 field.
const (
	SuperblockSize = 4096

	sbOffVersion     = 0
	sbOffRootOid     = 8
	sbOffOrphanedOid = 24
	sbOffInitialized = 40
	sbOffPoolID      = 48 // 16 bytes, a github.com/google/uuid value
)

// Superblock is the durable root of a pool, fixed at offset 0. Initialized
// is the final word written by pool creation (spec §3.1): any pool read
// back with Initialized == 0 is half-formatted and must not be trusted.
type Superblock struct {
	Version     uint64
	RootOid     pmem.Ref
	OrphanedOid pmem.Ref
	Initialized bool
	PoolID      [16]byte
}

// ReadSuperblock decodes the superblock from the start of data.
func ReadSuperblock(data []byte) Superblock {
	sb := Superblock{
		Version:     binary.LittleEndian.Uint64(data[sbOffVersion:]),
		RootOid:     pmem.Ref(binary.LittleEndian.Uint64(data[sbOffRootOid:])),
		OrphanedOid: pmem.Ref(binary.LittleEndian.Uint64(data[sbOffOrphanedOid:])),
		Initialized: data[sbOffInitialized] != 0,
	}
	copy(sb.PoolID[:], data[sbOffPoolID:sbOffPoolID+16])
	return sb
}

// WriteSuperblock encodes sb into a SuperblockSize-byte buffer, zero-padded.
// Initialized is encoded as given; pool.Create writes the superblock once
// with it false and writes it again with it true only after the rest of
// the heap is walkable, per spec §3.2 invariant 5.
func WriteSuperblock(sb Superblock) [SuperblockSize]byte {
	var buf [SuperblockSize]byte
	binary.LittleEndian.PutUint64(buf[sbOffVersion:], sb.Version)
	binary.LittleEndian.PutUint64(buf[sbOffRootOid:], uint64(sb.RootOid))
	binary.LittleEndian.PutUint64(buf[sbOffOrphanedOid:], uint64(sb.OrphanedOid))
	if sb.Initialized {
		buf[sbOffInitialized] = 1
	}
	copy(buf[sbOffPoolID:sbOffPoolID+16], sb.PoolID[:])
	return buf
}

// ChunkType is the tagged state of a chunk, per spec §3.2 invariant 1:
// exactly one of {free, used, run} is the live state of a chunk at any
// durable moment. Re-implemented as a Go sum type (design note §9) rather
// than the source's per-type vtable.
type ChunkType uint8

const (
	ChunkFree ChunkType = iota
	ChunkUsed
	ChunkRun
)

// chunkHeaderSize is the on-media size of one ChunkHeader slot in a zone's
// header table.
const chunkHeaderSize = 16

// ChunkHeader is the fundamental unit of heap bookkeeping metadata, stored
// in a zone's header table (never inline with chunk data, so that reading
// bookkeeping state never requires walking user data). SizeIdx is the span
// in chunk units for a huge chunk/run-chunk pair, and is always 1 for a
// standalone run chunk in this implementation (runs are not split across
// multiple chunks).
type ChunkHeader struct {
	Type     ChunkType
	SizeIdx  uint32 // huge: span in chunks; run: 1; free: span of the free run
	UnitSize uint16 // run chunks only: size of one allocatable unit
}

func readChunkHeader(b []byte) ChunkHeader {
	return ChunkHeader{
		Type:     ChunkType(b[0]),
		SizeIdx:  binary.LittleEndian.Uint32(b[4:8]),
		UnitSize: binary.LittleEndian.Uint16(b[8:10]),
	}
}

func encodeChunkHeader(b []byte, h ChunkHeader) {
	b[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(b[4:8], h.SizeIdx)
	binary.LittleEndian.PutUint16(b[8:10], h.UnitSize)
}

// AllocHeaderSize is the 24-byte prefix stored immediately before user
// data: chunk_id (8) · size (8, including this header) · zone_id (4) · pad
// (4). From any user offset, the header is recoverable by subtracting this
// constant (spec §3.1, §6.1).
const AllocHeaderSize = 24

// AllocHeader is the allocation header preceding every user-visible offset.
type AllocHeader struct {
	ChunkID uint64
	Size    uint64
	ZoneID  uint32
}

// ReadAllocHeader recovers the header for user offset userOff.
func ReadAllocHeader(data []byte, userOff pmem.Ref) AllocHeader {
	b := data[userOff-AllocHeaderSize:]
	return AllocHeader{
		ChunkID: binary.LittleEndian.Uint64(b[0:8]),
		Size:    binary.LittleEndian.Uint64(b[8:16]),
		ZoneID:  binary.LittleEndian.Uint32(b[16:20]),
	}
}

func encodeAllocHeader(b []byte, h AllocHeader) {
	binary.LittleEndian.PutUint64(b[0:8], h.ChunkID)
	binary.LittleEndian.PutUint64(b[8:16], h.Size)
	binary.LittleEndian.PutUint32(b[16:20], h.ZoneID)
}

// Layout describes a zone's fixed geometry, computed once at pool
// create/open time from cfg.HeapConfig.
type Layout struct {
	ZoneBase  pmem.Ref // start of this zone's region
	NumChunks int
	ChunkSize int64 // bytes per chunk, header table excluded

	headerTableBase pmem.Ref
	dataBase        pmem.Ref
}

// NewLayout computes a zone layout that fits within zoneSize bytes using
// chunkSize-byte chunks, reserving a header table sized to NumChunks
// entries ahead of the data region.
func NewLayout(zoneBase pmem.Ref, zoneSize, chunkSize int64) Layout {
	// Solve NumChunks*chunkHeaderSize + NumChunks*chunkSize <= zoneSize.
	n := int(zoneSize / (chunkSize + chunkHeaderSize))
	headerBytes := int64(n) * chunkHeaderSize
	// Round the data base up to a cache-line boundary so allocation headers
	// inside it start cache-line aligned, per spec §6.1.
	dataBase := zoneBase + pmem.Ref(headerBytes)
	if rem := uint64(dataBase) % 64; rem != 0 {
		dataBase += pmem.Ref(64 - rem)
	}
	return Layout{
		ZoneBase:        zoneBase,
		NumChunks:       n,
		ChunkSize:       chunkSize,
		headerTableBase: zoneBase,
		dataBase:        dataBase,
	}
}

// HeaderOffset returns the offset of chunk i's header slot.
func (l Layout) HeaderOffset(i int) pmem.Ref {
	return l.headerTableBase + pmem.Ref(i*chunkHeaderSize)
}

// ChunkOffset returns the offset of chunk i's data region.
func (l Layout) ChunkOffset(i int) pmem.Ref {
	return l.dataBase + pmem.Ref(int64(i)*l.ChunkSize)
}

// End returns the offset one past this zone's data region.
func (l Layout) End() pmem.Ref {
	return l.dataBase + pmem.Ref(int64(l.NumChunks)*l.ChunkSize)
}
