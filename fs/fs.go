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
	"sync"
	"syscall"
	"time"

	"github.com/nvmfs/pmemcore/heap"
	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/pool"
	"github.com/nvmfs/pmemcore/txn"
)

// FileSystem is pmemfile-core's entry point onto a pool: it owns the
// volatile vinode cache and drives every durable mutation through a
// txn.Scope, per spec.md §4.5's "FS collaborator" role. Path resolution
// beyond single-component Lookup is deliberately not built here (spec.md
// §1: "Its path-resolution and POSIX-surface logic is out of scope").
type FileSystem struct {
	p *pool.Pool
	h *heap.Heap

	mu      sync.Mutex
	vinodes map[pmem.Ref]*VInode // GUARDED_BY(mu)
}

// New wraps an already-open pool, creating its root directory inode on
// first use (RootOid == 0) the way pool.Create leaves the superblock's
// object roots untouched until the collaborator that owns them decides
// what to put there.
func New(p *pool.Pool, uid, gid uint32, dirMode uint32) (*FileSystem, error) {
	fsys := &FileSystem{p: p, h: p.Heap, vinodes: make(map[pmem.Ref]*VInode)}

	sb := p.Superblock()
	if sb.RootOid != 0 {
		return fsys, nil
	}

	ctx := txn.NewContext(p.Ops(), p.Redo)
	now := time.Now()
	rootOff, err := createInode(ctx, p.Heap, inodeInit{
		kind: syscall.S_IFDIR, perm: dirMode, uid: uid, gid: gid, now: now,
	})
	if err != nil {
		return nil, fmt.Errorf("fs: create root inode: %w", err)
	}
	if err := ctx.Process(nil); err != nil {
		return nil, fmt.Errorf("fs: commit root inode: %w", err)
	}
	p.SetRoots(rootOff, 0)
	return fsys, nil
}

// Root returns the filesystem's root vinode.
func (fsys *FileSystem) Root() *VInode {
	return fsys.getVInode(fsys.p.Superblock().RootOid)
}

// getVInode returns the cached VInode for off, creating and caching one
// (with a lookup count of zero) if this is the first reference.
func (fsys *FileSystem) getVInode(off pmem.Ref) *VInode {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if vi, ok := fsys.vinodes[off]; ok {
		return vi
	}
	vi := newVInode(fsys.p.Ops(), off)
	fsys.vinodes[off] = vi
	return vi
}

// newHeldVInode returns off's cached vinode with its lookup count already
// incremented, for the creation operations (Mkdir/Create/Symlink) that hand
// a brand-new inode straight back to the caller the way a successful Lookup
// does -- both leave the caller owning one reference that a matching Close
// must release.
func (fsys *FileSystem) newHeldVInode(off pmem.Ref) *VInode {
	vi := fsys.getVInode(off)
	vi.Mu.Lock()
	vi.IncrementLookupCount()
	vi.Mu.Unlock()
	return vi
}

// forget drops off from the vinode cache. Called once DecrementLookupCount
// reports the count reached zero.
func (fsys *FileSystem) forget(off pmem.Ref) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	delete(fsys.vinodes, off)
}

// beginScope opens a transaction scope bound to this filesystem's pool.
func (fsys *FileSystem) beginScope() (*txn.Context, *txn.Scope) {
	ctx := txn.NewContext(fsys.p.Ops(), fsys.p.Redo)
	return ctx, txn.Begin(ctx, nil)
}

type inodeInit struct {
	kind uint32
	perm uint32
	uid  uint32
	gid  uint32
	now  time.Time
}

// createInode allocates and initializes a fresh inode via the heap
// constructor callback, so the allocation and its initial contents commit
// as one redo-log batch (spec.md §4.4's "same-transaction initialization").
func createInode(ctx *txn.Context, h *heap.Heap, init inodeInit) (pmem.Ref, error) {
	ts := specFromTime(init.now)
	nlink := uint64(1)
	if init.kind == syscall.S_IFDIR {
		nlink = 2 // self and the "." entry a directory implicitly holds
	}
	return h.Operation(ctx, 0, 0, InodeSize, func(data []byte) error {
		in := Inode{
			Version: 1,
			Uid:     init.uid,
			Gid:     init.gid,
			Mode:    goModeToPosix(init.kind, os.FileMode(init.perm&0777)),
			Atime:   ts, Ctime: ts, Mtime: ts,
			Nlink: nlink,
		}
		buf := EncodeInode(in)
		copy(data, buf[:])
		return nil
	})
}

// Lookup resolves name within dir, returning the target's vinode with an
// incremented lookup count.
func (fsys *FileSystem) Lookup(dir *VInode, name string) (*VInode, error) {
	in := dir.inode()
	if !in.IsDir() {
		return nil, fmt.Errorf("fs: lookup in non-directory: %w", pmerr.ErrNotADirectory)
	}
	ino, found := LookupDirent(fsys.p.Ops(), in.FirstDirPage(), name)
	if !found {
		return nil, fmt.Errorf("fs: %q: %w", name, pmerr.ErrNotFound)
	}
	vi := fsys.getVInode(ino)
	vi.Mu.Lock()
	vi.IncrementLookupCount()
	vi.Mu.Unlock()
	return vi, nil
}

// Readdir lists every entry in dir.
func (fsys *FileSystem) Readdir(dir *VInode) ([]DirEntry, error) {
	in := dir.inode()
	if !in.IsDir() {
		return nil, fmt.Errorf("fs: readdir on non-directory: %w", pmerr.ErrNotADirectory)
	}
	return ListDirents(fsys.p.Ops(), in.FirstDirPage()), nil
}

// Mkdir creates a directory named name inside dir.
func (fsys *FileSystem) Mkdir(dir *VInode, name string, mode uint32, uid, gid uint32) (vi *VInode, err error) {
	return fsys.createChild(dir, name, syscall.S_IFDIR, mode, uid, gid)
}

// Create creates a regular file named name inside dir.
func (fsys *FileSystem) Create(dir *VInode, name string, mode uint32, uid, gid uint32) (vi *VInode, err error) {
	return fsys.createChild(dir, name, syscall.S_IFREG, mode, uid, gid)
}

// Symlink creates a symlink named name inside dir, storing target in-inode
// (spec.md Non-goal: "symbolic links beyond in-inode storage").
func (fsys *FileSystem) Symlink(dir *VInode, name, target string, uid, gid uint32) (vi *VInode, err error) {
	if len(target) > MaxSymlinkTarget {
		return nil, errSymlinkTargetTooLong
	}
	ctx, scope := fsys.beginScope()
	defer scope.Done()

	now := time.Now()
	off, err := fsys.h.Operation(ctx, 0, 0, InodeSize, func(data []byte) error {
		in := Inode{
			Version: 1, Uid: uid, Gid: gid,
			Mode:  goModeToPosix(syscall.S_IFLNK, 0777),
			Nlink: 1,
		}
		ts := specFromTime(now)
		in.Atime, in.Ctime, in.Mtime = ts, ts, ts
		setSymlinkTarget(&in.Union, target)
		in.Size = uint64(len(target))
		buf := EncodeInode(in)
		copy(data, buf[:])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs: allocate symlink inode: %w", err)
	}

	if err := fsys.linkLocked(ctx, dir, name, off); err != nil {
		return nil, err
	}
	if err := scope.Commit(); err != nil {
		return nil, err
	}
	return fsys.newHeldVInode(off), nil
}

func (fsys *FileSystem) createChild(dir *VInode, name string, kind uint32, mode uint32, uid, gid uint32) (vi *VInode, err error) {
	in := dir.inode()
	if !in.IsDir() {
		return nil, fmt.Errorf("fs: create in non-directory: %w", pmerr.ErrNotADirectory)
	}

	ctx, scope := fsys.beginScope()
	defer scope.Done()

	off, err := createInode(ctx, fsys.h, inodeInit{kind: kind, perm: mode, uid: uid, gid: gid, now: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("fs: allocate inode: %w", err)
	}

	if err := fsys.linkLocked(ctx, dir, name, off); err != nil {
		return nil, err
	}
	if kind == syscall.S_IFDIR {
		if err := ctx.Set(dir.Off+inodeOffNlink, in.Nlink+1); err != nil {
			return nil, err
		}
	}

	if err := scope.Commit(); err != nil {
		return nil, err
	}
	return fsys.newHeldVInode(off), nil
}

// linkLocked adds a dirent for name -> childOff under dir, persisting a
// newly allocated first directory page into dir's inode union if this is
// dir's first entry. Must run inside the caller's scope; it never commits.
func (fsys *FileSystem) linkLocked(ctx *txn.Context, dir *VInode, name string, childOff pmem.Ref) error {
	in := dir.inode()
	firstPage := in.FirstDirPage()
	newFirstPage, err := AddDirent(ctx, fsys.h, fsys.p.Ops(), firstPage, name, childOff)
	if err != nil {
		return err
	}
	if newFirstPage != firstPage {
		if err := ctx.Set(dir.Off+inodeOffUnion, uint64(newFirstPage)); err != nil {
			return err
		}
	}
	return nil
}

// Link adds an additional name for an existing inode (hard link), bumping
// its nlink. Per the open question recorded in DESIGN.md ("duplicate
// return in source pmemfile_link"), every exit path here runs through
// scope.Done exactly once, so a hard-link failure never leaves an
// unbalanced vinode reference.
func (fsys *FileSystem) Link(dir *VInode, name string, target *VInode) (err error) {
	if target.IsDir() {
		return fmt.Errorf("fs: hard link to a directory: %w", pmerr.ErrInvalidArgument)
	}
	ctx, scope := fsys.beginScope()
	defer scope.Done()

	if err := fsys.linkLocked(ctx, dir, name, target.Off); err != nil {
		return err
	}
	nlink := target.inode().Nlink
	if err := ctx.Set(target.Off+inodeOffNlink, nlink+1); err != nil {
		return err
	}
	return scope.Commit()
}

// Unlink removes name from dir. If the target inode's nlink reaches zero
// while it still has open handles (lookup count > 0), it is parked on the
// orphan list instead of being reclaimed immediately (spec.md §3.2
// invariant 6).
func (fsys *FileSystem) Unlink(dir *VInode, name string) (err error) {
	ino, found := LookupDirent(fsys.p.Ops(), dir.inode().FirstDirPage(), name)
	if !found {
		return fmt.Errorf("fs: %q: %w", name, pmerr.ErrNotFound)
	}

	ctx, scope := fsys.beginScope()
	defer scope.Done()

	if err := RemoveDirent(ctx, fsys.p.Ops(), dir.inode().FirstDirPage(), name); err != nil {
		return err
	}

	target := DecodeInode(fsys.p.Ops().Data()[ino : ino+InodeSize])
	newNlink := target.Nlink - 1
	if err := ctx.Set(ino+inodeOffNlink, newNlink); err != nil {
		return err
	}

	reclaimed := false
	if newNlink == 0 {
		fsys.mu.Lock()
		vi, cached := fsys.vinodes[ino]
		fsys.mu.Unlock()
		hasHandles := false
		if cached {
			vi.Mu.Lock()
			hasHandles = vi.lc.count > 0
			vi.Mu.Unlock()
		}
		if hasHandles {
			sb := fsys.p.Superblock()
			newHead, oerr := InsertOrphan(ctx, fsys.h, fsys.p.Ops(), sb.OrphanedOid, ino)
			if oerr != nil {
				return oerr
			}
			if newHead != sb.OrphanedOid {
				fsys.p.SetRoots(sb.RootOid, newHead)
			}
		} else {
			if err := fsys.reclaim(ctx, ino, target); err != nil {
				return err
			}
			reclaimed = true
		}
	}

	if err := scope.Commit(); err != nil {
		return err
	}
	if reclaimed {
		fsys.forget(ino)
		fsys.h.PostCommitFree()
	}
	return nil
}

// Close drops one reference to vi. If the lookup count reaches zero and
// the inode is orphaned (nlink == 0), it is removed from the orphan list
// and its storage reclaimed -- spec.md's "remove-on-last-close".
func (fsys *FileSystem) Close(vi *VInode) (err error) {
	vi.Mu.Lock()
	zero := vi.DecrementLookupCount(1)
	vi.Mu.Unlock()
	if !zero {
		return nil
	}
	fsys.forget(vi.Off)

	in := vi.inode()
	if in.Nlink != 0 {
		return nil
	}

	ctx, scope := fsys.beginScope()
	defer scope.Done()

	sb := fsys.p.Superblock()
	if err := RemoveOrphan(ctx, fsys.p.Ops(), sb.OrphanedOid, vi.Off); err != nil {
		return err
	}
	if err := fsys.reclaim(ctx, vi.Off, in); err != nil {
		return err
	}
	if err := scope.Commit(); err != nil {
		return err
	}
	fsys.h.PostCommitFree()
	return nil
}

// reclaim frees an inode's data extents/dirent pages and the inode itself.
func (fsys *FileSystem) reclaim(ctx *txn.Context, off pmem.Ref, in Inode) error {
	switch {
	case in.IsRegular():
		for _, e := range ListExtents(fsys.p.Ops(), in.FirstBlockArray()) {
			if _, err := fsys.h.Operation(ctx, e.Offset, 0, 0, nil); err != nil {
				return err
			}
		}
	case in.IsDir():
		for page := in.FirstDirPage(); page != 0; {
			data := fsys.p.Ops().Data()[page:]
			_, next := readPageHeader(data)
			if _, err := fsys.h.Operation(ctx, page, 0, 0, nil); err != nil {
				return err
			}
			page = next
		}
	}
	_, err := fsys.h.Operation(ctx, off, 0, 0, nil)
	return err
}

// ReadAt reads from file's data starting at offset.
func (fsys *FileSystem) ReadAt(file *VInode, p []byte, offset int64) (int, error) {
	in := file.inode()
	if !in.IsRegular() {
		return 0, fmt.Errorf("fs: read on non-regular inode: %w", pmerr.ErrIsADirectory)
	}
	extents := ListExtents(fsys.p.Ops(), in.FirstBlockArray())
	return ReadAt(fsys.p.Ops(), extents, int64(in.Size), p, offset)
}

// WriteAt writes to file's data at offset, growing its extent chain and
// updating Size/Mtime as one transaction.
func (fsys *FileSystem) WriteAt(file *VInode, p []byte, offset int64) (n int, err error) {
	in := file.inode()
	if !in.IsRegular() {
		return 0, fmt.Errorf("fs: write on non-regular inode: %w", pmerr.ErrIsADirectory)
	}

	ctx, scope := fsys.beginScope()
	defer scope.Done()

	newFirstPage, n, err := WriteAt(ctx, fsys.h, fsys.p.Ops(), in.FirstBlockArray(), p, offset)
	if err != nil {
		return 0, err
	}
	if newFirstPage != in.FirstBlockArray() {
		if err := ctx.Set(file.Off+inodeOffUnion, uint64(newFirstPage)); err != nil {
			return 0, err
		}
	}
	newSize := in.Size
	if end := uint64(offset) + uint64(n); end > newSize {
		newSize = end
	}
	if newSize != in.Size {
		if err := ctx.Set(file.Off+inodeOffSize, newSize); err != nil {
			return 0, err
		}
	}
	if err := ctx.Set(file.Off+inodeOffMtime, uint64(time.Now().Unix())); err != nil {
		return 0, err
	}

	if err := scope.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
