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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmfs/pmemcore/fs"
)

func TestFsckWalksNestedDirectories(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	a, err := fsys.Mkdir(root, "a", 0755, 0, 0)
	require.NoError(t, err)
	b, err := fsys.Mkdir(a, "b", 0755, 0, 0)
	require.NoError(t, err)
	_, err = fsys.Create(b, "leaf", 0644, 0, 0)
	require.NoError(t, err)

	report, err := fs.Fsck(fsys)
	require.NoError(t, err)

	// root, a, b, leaf.
	require.Equal(t, 4, report.Inodes)
	require.Equal(t, 3, report.Dirs)
	require.Equal(t, 0, report.Orphans)
	require.Empty(t, report.DuplicateVisits)
}

func TestFsckCountsHardLinkedInodeOnce(t *testing.T) {
	fsys := newFixture(t)
	root := fsys.Root()

	file, err := fsys.Create(root, "orig", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, fsys.Link(root, "alias", file))

	report, err := fs.Fsck(fsys)
	require.NoError(t, err)

	// root and the one underlying inode, reached through two names.
	require.Equal(t, 2, report.Inodes)
	require.Len(t, report.DuplicateVisits, 1)
}
