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
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"

	"github.com/nvmfs/pmemcore/internal/pmem"
)

// lookupCount is the vinode reference counter, adapted from the teacher's
// fs/inode.lookupCount helper: Inc/Dec require external synchronization
// (the owning VInode's Mu), and Dec panics rather than under-flowing if a
// caller releases more references than it was ever given.
type lookupCount struct {
	count uint64
}

func (lc *lookupCount) Inc() { lc.count++ }

func (lc *lookupCount) Dec(n uint64) (zero bool) {
	if n > lc.count {
		panic(fmt.Sprintf("fs: lookup count underflow: %d vs %d", n, lc.count))
	}
	lc.count -= n
	return lc.count == 0
}

// VInode is the volatile, reference-counted handle to a persistent inode
// (spec.md's "vinode"): Off is the inode's pool-relative offset, stable for
// the VInode's lifetime. Mu guards everything mutable below it, checked in
// debug builds via syncutil.InvariantMutex the way the teacher's
// FileInode.Mu is.
type VInode struct {
	ops pmem.Ops
	Off pmem.Ref

	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	lc lookupCount
}

func newVInode(ops pmem.Ops, off pmem.Ref) *VInode {
	vi := &VInode{ops: ops, Off: off}
	vi.Mu = syncutil.NewInvariantMutex(vi.checkInvariants)
	return vi
}

func (vi *VInode) checkInvariants() {
	if vi.Off == 0 {
		panic("fs: vinode for the null offset")
	}
}

// IncrementLookupCount requires Mu to be held.
func (vi *VInode) IncrementLookupCount() { vi.lc.Inc() }

// DecrementLookupCount requires Mu to be held. It reports whether the
// lookup count reached zero, the signal the filesystem layer uses to drop
// the VInode from its cache and, for an orphaned (nlink==0) inode, to
// remove it from the orphan list (spec.md's "remove-on-last-close").
func (vi *VInode) DecrementLookupCount(n uint64) (zero bool) {
	return vi.lc.Dec(n)
}

// inode reads the current durable contents of this vinode's inode. It is
// always re-read rather than cached: palloc/txn commits are the only
// source of truth, and a VInode is cheap to re-decode (a single 4096-byte
// copy).
func (vi *VInode) inode() Inode {
	return DecodeInode(vi.ops.Data()[vi.Off : vi.Off+InodeSize])
}

func (vi *VInode) IsDir() bool     { return vi.inode().IsDir() }
func (vi *VInode) IsSymlink() bool { return vi.inode().IsSymlink() }
func (vi *VInode) IsRegular() bool { return vi.inode().IsRegular() }

// Attributes returns up-to-date POSIX attributes for this inode, per
// spec.md §4.5 / the design note's Inode method set.
func (vi *VInode) Attributes() (fuseops.InodeAttributes, error) {
	in := vi.inode()
	return fuseops.InodeAttributes{
		Size:   in.Size,
		Nlink:  uint32(in.Nlink),
		Mode:   posixModeToGo(in.Mode),
		Atime:  timeFromSpec(in.Atime),
		Mtime:  timeFromSpec(in.Mtime),
		Ctime:  timeFromSpec(in.Ctime),
		Crtime: timeFromSpec(in.Ctime),
		Uid:    in.Uid,
		Gid:    in.Gid,
	}, nil
}

func timeFromSpec(t Timespec) time.Time {
	return time.Unix(t.Sec, t.Nsec)
}

func specFromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// posixModeToGo translates a raw POSIX mode word (file-type bits from
// syscall.S_IFDIR/S_IFREG/S_IFLNK plus permission bits) into the os.FileMode
// encoding fuseops.InodeAttributes expects, matching the convention the
// teacher's SymlinkInode.Attributes uses (permission bits | a Go-specific
// type bit).
func posixModeToGo(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0777)
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return perm | os.ModeDir
	case syscall.S_IFLNK:
		return perm | os.ModeSymlink
	default:
		return perm
	}
}

func goModeToPosix(kind uint32, perm os.FileMode) uint32 {
	return kind | uint32(perm&0777)
}
