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

	"github.com/nvmfs/pmemcore/internal/pmem"
)

// FsckReport summarizes a read-only walk of a pool's inode graph. It never
// mutates the pool; repair is left to a human who reads the report, the
// same caution the teacher's garbageCollect exercises around the GCS
// objects it only ever lists before acting on one at a time.
type FsckReport struct {
	Inodes           int
	Dirs             int
	Orphans          int
	UnreadableInodes []pmem.Ref
	DuplicateVisits  []pmem.Ref
}

// Fsck walks the directory tree from the root, counting the inodes and
// directories it reaches and recording inodes it cannot read or reaches
// more than once, and counts the entries on the orphan list. It does not
// scan the heap, so an inode reachable from neither the root nor the
// orphan list is not reported.
func Fsck(fsys *FileSystem) (FsckReport, error) {
	var report FsckReport
	visited := make(map[pmem.Ref]bool)

	var walk func(vi *VInode) error
	walk = func(vi *VInode) error {
		if visited[vi.Off] {
			report.DuplicateVisits = append(report.DuplicateVisits, vi.Off)
			return nil
		}
		visited[vi.Off] = true
		report.Inodes++

		if !vi.IsDir() {
			return nil
		}
		report.Dirs++

		entries, err := fsys.Readdir(vi)
		if err != nil {
			report.UnreadableInodes = append(report.UnreadableInodes, vi.Off)
			return nil
		}
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			child := fsys.getVInode(e.Ino)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(fsys.Root()); err != nil {
		return report, fmt.Errorf("fs: fsck: %w", err)
	}

	sb := fsys.p.Superblock()
	report.Orphans = len(ListOrphans(fsys.p.Ops(), sb.OrphanedOid))

	return report, nil
}
