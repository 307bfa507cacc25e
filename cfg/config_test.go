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

package cfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvmfs/pmemcore/cfg"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, cfg.BindFlags(fs))
	return fs
}

func TestLoadAppliesDefaultsWithoutFileOrFlags(t *testing.T) {
	fs := newFlagSet(t)
	require.NoError(t, fs.Parse([]string{"--pool-path=/tmp/pool"}))

	c, err := cfg.Load("", fs)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/pool", c.PoolPath)
	assert.Equal(t, cfg.DefaultZoneMaxSize, c.Heap.ZoneMaxSize)
	assert.Equal(t, cfg.SyncModeStrict, c.Redo.SyncMode)
}

func TestLoadFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("pool-path: /from/file\nredo:\n  sync-mode: relaxed\n"), 0600))

	fs := newFlagSet(t)
	require.NoError(t, fs.Parse([]string{"--pool-path=/from/flag"}))

	c, err := cfg.Load(configPath, fs)

	require.NoError(t, err)
	assert.Equal(t, "/from/flag", c.PoolPath, "flags must win over the config file")
	assert.Equal(t, cfg.SyncModeRelaxed, c.Redo.SyncMode, "file values not overridden by a flag survive")
}

func TestLoadRejectsMissingPoolPath(t *testing.T) {
	fs := newFlagSet(t)
	require.NoError(t, fs.Parse(nil))

	_, err := cfg.Load("", fs)

	assert.ErrorContains(t, err, "pool-path is required")
}

func TestLoadRejectsBadSyncMode(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("pool-path: /tmp/pool\nredo:\n  sync-mode: eventual\n"), 0600))
	fs := newFlagSet(t)
	require.NoError(t, fs.Parse(nil))

	_, err := cfg.Load(configPath, fs)

	assert.Error(t, err)
}
