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

package pool_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvmfs/pmemcore/cfg"
	"github.com/nvmfs/pmemcore/pool"
	"github.com/nvmfs/pmemcore/txn"
)

func testConfig(t *testing.T, path string) cfg.Config {
	t.Helper()
	c := cfg.GetDefaultConfig()
	c.PoolPath = path
	c.PoolSize = 4 << 20
	c.Heap.ChunkSize = 4096
	c.Redo.Capacity = cfg.MinRedoLogCapacity
	return c
}

func TestCreateThenOpenRoundTripsAllocatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pmem")
	c := testConfig(t, path)

	p, err := pool.Create(path, c.PoolSize, c)
	require.NoError(t, err)

	ctx := txn.NewContext(p.Ops(), p.Redo)
	userOff, err := p.Heap.Operation(ctx, 0, 0, 64, func(data []byte) error {
		copy(data, bytes.Repeat([]byte{0x7A}, 64))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Process(nil))
	require.NoError(t, p.Close())

	p2, err := pool.Open(path, c)
	require.NoError(t, err)
	defer p2.Close()

	assert.True(t, bytes.Equal(p2.Ops().Data()[userOff:userOff+64], bytes.Repeat([]byte{0x7A}, 64)))

	// The bucket index must have been rebuilt: a fresh allocation succeeds
	// without replaying any prior Context.
	ctx2 := txn.NewContext(p2.Ops(), p2.Redo)
	_, err = p2.Heap.Operation(ctx2, 0, 0, 64, nil)
	assert.NoError(t, err)
}

func TestCreateRejectsReopeningSamePathInOneProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pmem")
	c := testConfig(t, path)

	p, err := pool.Create(path, c.PoolSize, c)
	require.NoError(t, err)
	defer p.Close()

	_, err = pool.Open(path, c)
	assert.Error(t, err, "the registry must reject a second handle for the same path")
}

func TestOpenRejectsHalfFormattedPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pmem")
	c := testConfig(t, path)

	// Simulate a crash during Create: a zero-filled file of the right size
	// but no superblock ever written, so Initialized reads back false.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(c.PoolSize))
	require.NoError(t, f.Close())

	_, err = pool.Open(path, c)
	assert.Error(t, err)
}

func TestSetRootsPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pmem")
	c := testConfig(t, path)

	p, err := pool.Create(path, c.PoolSize, c)
	require.NoError(t, err)
	p.SetRoots(4096, 8192)
	require.NoError(t, p.Close())

	p2, err := pool.Open(path, c)
	require.NoError(t, err)
	defer p2.Close()

	sb := p2.Superblock()
	assert.EqualValues(t, 4096, sb.RootOid)
	assert.EqualValues(t, 8192, sb.OrphanedOid)
}
