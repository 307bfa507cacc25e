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

// Package fs implements the persistent filesystem objects pmemfile-core
// consumes from the allocator: inodes, directory pages, block-array data
// extents and the orphaned-inode list. Path resolution and the POSIX call
// surface built on top of these objects are out of scope (spec.md §1); only
// the durable shapes and the transactional operations that mutate them are
// implemented here.
package fs

import (
	"encoding/binary"
	"syscall"

	"github.com/nvmfs/pmemcore/internal/pmem"
)

// Inode is the on-media layout of spec.md §6.1: version(4) · uid(4) ·
// gid(4) · mode(4) · atime(16) · ctime(16) · mtime(16) · nlink(8) · size(8)
// · flags(8) · last_block_fill(8) · union(4000), padded to InodeSize. The
// spec's nominal "pad(4)" word carries the POSIX mode (file type bits from
// syscall.S_IFREG/S_IFDIR/S_IFLNK plus permission bits) instead of being
// left unused, since §6.1 otherwise has no field for it; see DESIGN.md.
const (
	InodeSize = 4096

	inodeOffVersion       = 0
	inodeOffUid           = 4
	inodeOffGid           = 8
	inodeOffMode          = 12
	inodeOffAtime         = 16
	inodeOffCtime         = 32
	inodeOffMtime         = 48
	inodeOffNlink         = 64
	inodeOffSize          = 72
	inodeOffFlags         = 80
	inodeOffLastBlockFill = 88
	inodeOffUnion         = 96

	InodeHeaderSize = inodeOffUnion
	InodeUnionSize  = InodeSize - InodeHeaderSize
)

// Timespec is a (seconds, nanoseconds) pair, the wire shape of the three
// 16-byte time fields in an on-media inode.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Inode mirrors the decoded form of an on-media inode. Union holds whichever
// of {block_array oid, dir oid, symlink target} this inode's Mode selects;
// readers branch on IsDir/IsSymlink before interpreting it.
type Inode struct {
	Version       uint32
	Uid, Gid      uint32
	Mode          uint32
	Atime, Ctime, Mtime Timespec
	Nlink         uint64
	Size          uint64
	Flags         uint64
	LastBlockFill uint64
	Union         [InodeUnionSize]byte
}

func (i *Inode) IsDir() bool     { return i.Mode&syscall.S_IFMT == syscall.S_IFDIR }
func (i *Inode) IsSymlink() bool { return i.Mode&syscall.S_IFMT == syscall.S_IFLNK }
func (i *Inode) IsRegular() bool { return i.Mode&syscall.S_IFMT == syscall.S_IFREG }

// FirstBlockArray returns the oid stored in Union for a regular file,
// interpreting its first 8 bytes as a little-endian pool offset.
func (i *Inode) FirstBlockArray() pmem.Ref {
	return pmem.Ref(binary.LittleEndian.Uint64(i.Union[:8]))
}

// FirstDirPage returns the oid stored in Union for a directory.
func (i *Inode) FirstDirPage() pmem.Ref {
	return pmem.Ref(binary.LittleEndian.Uint64(i.Union[:8]))
}

// SymlinkTarget returns the in-inode symlink target, stored as a
// length-prefixed byte string in Union (spec.md Non-goals: "symbolic links
// beyond in-inode storage" -- so the target must fit in InodeUnionSize-2).
func (i *Inode) SymlinkTarget() string {
	n := binary.LittleEndian.Uint16(i.Union[:2])
	return string(i.Union[2 : 2+int(n)])
}

func setSymlinkTarget(u *[InodeUnionSize]byte, target string) {
	binary.LittleEndian.PutUint16(u[:2], uint16(len(target)))
	copy(u[2:], target)
}

func setFirstRef(u *[InodeUnionSize]byte, off pmem.Ref) {
	binary.LittleEndian.PutUint64(u[:8], uint64(off))
}

func readTimespec(b []byte) Timespec {
	return Timespec{
		Sec:  int64(binary.LittleEndian.Uint64(b[0:8])),
		Nsec: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func writeTimespec(b []byte, t Timespec) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.Sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.Nsec))
}

// DecodeInode reads an inode from its InodeSize-byte slot.
func DecodeInode(b []byte) Inode {
	var in Inode
	in.Version = binary.LittleEndian.Uint32(b[inodeOffVersion:])
	in.Uid = binary.LittleEndian.Uint32(b[inodeOffUid:])
	in.Gid = binary.LittleEndian.Uint32(b[inodeOffGid:])
	in.Mode = binary.LittleEndian.Uint32(b[inodeOffMode:])
	in.Atime = readTimespec(b[inodeOffAtime:])
	in.Ctime = readTimespec(b[inodeOffCtime:])
	in.Mtime = readTimespec(b[inodeOffMtime:])
	in.Nlink = binary.LittleEndian.Uint64(b[inodeOffNlink:])
	in.Size = binary.LittleEndian.Uint64(b[inodeOffSize:])
	in.Flags = binary.LittleEndian.Uint64(b[inodeOffFlags:])
	in.LastBlockFill = binary.LittleEndian.Uint64(b[inodeOffLastBlockFill:])
	copy(in.Union[:], b[inodeOffUnion:InodeSize])
	return in
}

// EncodeInode writes in into an InodeSize-byte buffer.
func EncodeInode(in Inode) [InodeSize]byte {
	var b [InodeSize]byte
	binary.LittleEndian.PutUint32(b[inodeOffVersion:], in.Version)
	binary.LittleEndian.PutUint32(b[inodeOffUid:], in.Uid)
	binary.LittleEndian.PutUint32(b[inodeOffGid:], in.Gid)
	binary.LittleEndian.PutUint32(b[inodeOffMode:], in.Mode)
	writeTimespec(b[inodeOffAtime:], in.Atime)
	writeTimespec(b[inodeOffCtime:], in.Ctime)
	writeTimespec(b[inodeOffMtime:], in.Mtime)
	binary.LittleEndian.PutUint64(b[inodeOffNlink:], in.Nlink)
	binary.LittleEndian.PutUint64(b[inodeOffSize:], in.Size)
	binary.LittleEndian.PutUint64(b[inodeOffFlags:], in.Flags)
	binary.LittleEndian.PutUint64(b[inodeOffLastBlockFill:], in.LastBlockFill)
	copy(b[inodeOffUnion:], in.Union[:])
	return b
}
