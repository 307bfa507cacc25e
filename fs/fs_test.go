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

package fs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmfs/pmemcore/cfg"
	"github.com/nvmfs/pmemcore/fs"
	"github.com/nvmfs/pmemcore/pool"
)

func newFixture(t *testing.T) *fs.FileSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.pmem")
	c := cfg.GetDefaultConfig()
	c.Heap.ChunkSize = 4096
	c.Redo.Capacity = cfg.MinRedoLogCapacity

	p, err := pool.Create(path, 16<<20, c)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	fsys, err := fs.New(p, 0, 0, 0755)
	require.NoError(t, err)
	return fsys
}

func TestNewCreatesRootDirectory(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()
	require.True(t, root.IsDir())
}

func TestMkdirCreateLookupRoundTrip(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	sub, err := fsys.Mkdir(root, "sub", 0755, 1, 1)
	require.NoError(t, err)
	require.True(t, sub.IsDir())

	file, err := fsys.Create(sub, "a.txt", 0644, 1, 1)
	require.NoError(t, err)
	require.True(t, file.IsRegular())

	got, err := fsys.Lookup(sub, "a.txt")
	require.NoError(t, err)
	require.Equal(t, file.Off, got.Off)

	entries, err := fsys.Readdir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sub", entries[0].Name)
}

func TestWriteAtThenReadAtRoundTrips(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	file, err := fsys.Create(root, "data.bin", 0644, 0, 0)
	require.NoError(t, err)

	payload := []byte("persistent memory is not the same as disk")
	n, err := fsys.WriteAt(file, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fsys.ReadAt(file, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestSymlinkStoresTargetInInode(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	link, err := fsys.Symlink(root, "l", "/some/target", 0, 0)
	require.NoError(t, err)
	require.True(t, link.IsSymlink())

	target, err := link.Target()
	require.NoError(t, err)
	require.Equal(t, "/some/target", target)
}

func TestLinkAddsNameAndIncrementsNlink(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	file, err := fsys.Create(root, "orig", 0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Link(root, "alias", file))

	aliasVi, err := fsys.Lookup(root, "alias")
	require.NoError(t, err)
	require.Equal(t, file.Off, aliasVi.Off)
}

func TestUnlinkRemovesDirentAndReclaimsOnLastClose(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	file, err := fsys.Create(root, "doomed", 0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Unlink(root, "doomed"))

	_, err = fsys.Lookup(root, "doomed")
	require.Error(t, err)

	// Create left file holding the one reference Close now releases; with
	// nlink already at zero, this is what actually reclaims its storage.
	require.NoError(t, fsys.Close(file))
}

func TestUnlinkOrphansInodeWithOpenHandle(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	// Create itself hands back a held reference, the open handle that
	// keeps the inode alive past its last unlink.
	file, err := fsys.Create(root, "held", 0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Unlink(root, "held"))

	report, err := fs.Fsck(fsys)
	require.NoError(t, err)
	require.Equal(t, 1, report.Orphans)

	require.NoError(t, fsys.Close(file))

	report, err = fs.Fsck(fsys)
	require.NoError(t, err)
	require.Equal(t, 0, report.Orphans)
}
