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

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// DirHandle buffers a snapshot of a directory's entries for one open
// readdir session, the way the teacher's dirHandle buffers a page of GCS
// listing results -- except a pool's dirent pages are cheap to enumerate
// in full, so there is no continuation token, only a stable offset into
// one fully-buffered snapshot taken at the first read.
type DirHandle struct {
	dir *VInode

	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	entries []DirEntry
	loaded  bool
}

// NewDirHandle opens a readdir session over dir.
func NewDirHandle(dir *VInode) *DirHandle {
	dh := &DirHandle{dir: dir}
	dh.Mu = syncutil.NewInvariantMutex(dh.checkInvariants)
	return dh
}

func (dh *DirHandle) checkInvariants() {
	if dh.dir == nil {
		panic("fs: dir handle with no backing directory")
	}
}

// ReadDir returns up to len(buf) entries starting at the given offset,
// snapshotting the directory's contents on the first call (offset 0) the
// way the teacher's dirHandle resets its buffer when it sees offset zero.
// EXCLUSIVE_LOCKS_REQUIRED(dh.Mu)
func (dh *DirHandle) ReadDir(fsys *FileSystem, offset fuseops.DirOffset, buf []DirEntry) (n int, err error) {
	if offset == 0 || !dh.loaded {
		entries, rerr := fsys.Readdir(dh.dir)
		if rerr != nil {
			return 0, fmt.Errorf("fs: readdir: %w", rerr)
		}
		dh.entries = entries
		dh.loaded = true
	}

	idx := int(offset)
	if idx > len(dh.entries) {
		return 0, fmt.Errorf("fs: readdir offset %d past end of %d buffered entries", idx, len(dh.entries))
	}

	n = copy(buf, dh.entries[idx:])
	return n, nil
}
