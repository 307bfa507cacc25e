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
	"golang.org/x/sys/unix"

	"github.com/nvmfs/pmemcore/fs"
)

func TestParseOpenFlagsDecodesAccessMode(t *testing.T) {
	f, err := fs.ParseOpenFlags(unix.O_RDWR | unix.O_CREAT | unix.O_EXCL)
	require.NoError(t, err)
	require.True(t, f.Read)
	require.True(t, f.Write)
	require.True(t, f.Create)
	require.True(t, f.Excl)
	require.False(t, f.Truncate)
}

func TestParseOpenFlagsRejectsAsyncAndPath(t *testing.T) {
	_, err := fs.ParseOpenFlags(unix.O_RDONLY | unix.O_ASYNC)
	require.Error(t, err)

	_, err = fs.ParseOpenFlags(unix.O_RDONLY | unix.O_PATH)
	require.Error(t, err)
}

func TestParseOpenFlagsAcceptsNoOpFlags(t *testing.T) {
	f, err := fs.ParseOpenFlags(unix.O_RDONLY | unix.O_CLOEXEC | unix.O_NOFOLLOW)
	require.NoError(t, err)
	require.True(t, f.Read)
}
