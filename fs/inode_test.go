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
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmfs/pmemcore/fs"
)

func TestInodeEncodeDecodeRoundTrip(t *testing.T) {
	in := fs.Inode{
		Version: 1,
		Uid:     1000,
		Gid:     1000,
		Mode:    syscall.S_IFREG | 0644,
		Atime:   fs.Timespec{Sec: 10, Nsec: 20},
		Ctime:   fs.Timespec{Sec: 30, Nsec: 40},
		Mtime:   fs.Timespec{Sec: 50, Nsec: 60},
		Nlink:   1,
		Size:    4096,
		Flags:   0,
	}

	buf := fs.EncodeInode(in)
	require.Equal(t, fs.InodeSize, len(buf))

	got := fs.DecodeInode(buf[:])
	require.Equal(t, in.Version, got.Version)
	require.Equal(t, in.Uid, got.Uid)
	require.Equal(t, in.Gid, got.Gid)
	require.Equal(t, in.Mode, got.Mode)
	require.Equal(t, in.Atime, got.Atime)
	require.Equal(t, in.Mtime, got.Mtime)
	require.Equal(t, in.Nlink, got.Nlink)
	require.Equal(t, in.Size, got.Size)
	require.True(t, got.IsRegular())
	require.False(t, got.IsDir())
}

func TestInodeUnionSizeIsPageExact(t *testing.T) {
	require.Equal(t, fs.InodeSize, fs.InodeHeaderSize+fs.InodeUnionSize)
}
