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

package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmfs/pmemcore/cfg"
	"github.com/nvmfs/pmemcore/fs"
	"github.com/nvmfs/pmemcore/pool"
)

// poolArgs returns the flag set every subcommand test needs to size a pool
// small enough to create quickly, overriding whatever a previous test left
// bound on the shared persistent flag set.
func poolArgs(poolPath string, extra ...string) []string {
	args := []string{
		"--pool-size", "16777216",
		"--chunk-size", "4096",
		"--redo-capacity", "65536",
		poolPath,
	}
	return append(args, extra...)
}

func TestCreateCommandFormatsPool(t *testing.T) {
	poolPath := filepath.Join(t.TempDir(), "pool.pmem")

	rootCmd.SetArgs(append([]string{"create"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())

	c := cfg.GetDefaultConfig()
	p, err := pool.Open(poolPath, c)
	require.NoError(t, err)
	defer p.Close()

	sb := p.Superblock()
	require.True(t, sb.Initialized)
	require.NotZero(t, sb.RootOid)
}

func TestStatCommandReportsSuperblock(t *testing.T) {
	poolPath := filepath.Join(t.TempDir(), "pool.pmem")
	rootCmd.SetArgs(append([]string{"create"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs(append([]string{"stat"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())
}

func TestFsckCommandReportsCleanPool(t *testing.T) {
	poolPath := filepath.Join(t.TempDir(), "pool.pmem")
	rootCmd.SetArgs(append([]string{"create"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs(append([]string{"fsck"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())
}

func TestLsCommandListsCreatedEntries(t *testing.T) {
	poolPath := filepath.Join(t.TempDir(), "pool.pmem")
	rootCmd.SetArgs(append([]string{"create"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())

	// Populate a subdirectory directly through fs, the way a mounted front
	// end would, before exercising ls against it.
	c := cfg.GetDefaultConfig()
	p, err := pool.Open(poolPath, c)
	require.NoError(t, err)
	fsys, err := fs.New(p, 0, 0, 0755)
	require.NoError(t, err)
	_, err = fsys.Mkdir(fsys.Root(), "sub", 0755, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	rootCmd.SetArgs(append([]string{"ls"}, poolArgs(poolPath)...))
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs(append([]string{"ls"}, poolArgs(poolPath, "sub")...))
	require.NoError(t, rootCmd.Execute()) // sub exists and is empty; listing it is a no-op, not an error
}
