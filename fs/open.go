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

	"golang.org/x/sys/unix"

	"github.com/nvmfs/pmemcore/internal/pmerr"
)

// OpenFlags is the decoded, validated form of a file-open request, per
// spec.md §6.3.
type OpenFlags struct {
	Read, Write      bool
	Create, Excl     bool
	Truncate, Append bool
	NoAtime          bool
	Tmpfile          bool
	Directory        bool
}

// honoredNoOpFlags are accepted but have no effect beyond what persistent
// memory already implies: durability is unconditional, there is no
// underlying block device queue to bypass or signal-driven I/O to request.
const honoredNoOpFlags = unix.O_CLOEXEC | unix.O_DIRECT | unix.O_DSYNC |
	unix.O_NOCTTY | unix.O_NONBLOCK | unix.O_SYNC | unix.O_NOFOLLOW

const recognizedFlags = unix.O_ACCMODE | unix.O_CREAT | unix.O_EXCL |
	unix.O_TRUNC | unix.O_APPEND | unix.O_NOATIME | unix.O_TMPFILE |
	unix.O_DIRECTORY | honoredNoOpFlags

// ParseOpenFlags validates flags against spec.md §6.3's recognized set.
// O_ASYNC and O_PATH fail with ErrUnsupportedFlag outright; any bit outside
// the recognized set also fails with ErrUnsupportedFlag; every other
// recognized no-op flag is accepted silently.
func ParseOpenFlags(flags int) (OpenFlags, error) {
	if flags&(unix.O_ASYNC|unix.O_PATH) != 0 {
		return OpenFlags{}, fmt.Errorf("fs: O_ASYNC/O_PATH: %w", pmerr.ErrUnsupportedFlag)
	}
	if flags & ^recognizedFlags != 0 {
		return OpenFlags{}, fmt.Errorf("fs: unrecognized open flag bits %#o: %w", flags & ^recognizedFlags, pmerr.ErrUnsupportedFlag)
	}

	var f OpenFlags
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		f.Read = true
	case unix.O_WRONLY:
		f.Write = true
	case unix.O_RDWR:
		f.Read, f.Write = true, true
	}
	f.Create = flags&unix.O_CREAT != 0
	f.Excl = flags&unix.O_EXCL != 0
	f.Truncate = flags&unix.O_TRUNC != 0
	f.Append = flags&unix.O_APPEND != 0
	f.NoAtime = flags&unix.O_NOATIME != 0
	f.Tmpfile = flags&unix.O_TMPFILE != 0
	f.Directory = flags&unix.O_DIRECTORY != 0
	return f, nil
}
