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
	"syscall"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/nvmfs/pmemcore/internal/pmerr"
)

// MaxSymlinkTarget bounds an in-inode symlink target to what Union can hold
// (a 2-byte length prefix plus the target bytes), per spec.md's Non-goal
// "symbolic links beyond in-inode storage": there is no indirect block for
// an over-length target, so one is simply rejected.
const MaxSymlinkTarget = InodeUnionSize - 2

var errSymlinkTargetTooLong = fmt.Errorf("fs: symlink target exceeds %d bytes: %w", MaxSymlinkTarget, pmerr.ErrInvalidArgument)

// LstatAttributes resolves the open question recorded in DESIGN.md ("lstat
// aliased to stat"): it reports a symlink itself (os.ModeSymlink in Mode,
// size the length of its target). Nothing in this package follows a
// symlink: Attributes describes the inode it is called on, so a caller
// that wants the target's attributes walks to the target vinode itself
// (path resolution is out of scope per spec.md §1) and calls Attributes
// there.

// LstatAttributes returns attributes describing the symlink itself, never
// its target.
func (vi *VInode) LstatAttributes() (fuseops.InodeAttributes, error) {
	attrs, err := vi.Attributes()
	if err != nil {
		return attrs, err
	}
	if vi.IsSymlink() {
		attrs.Size = uint64(len(vi.inode().SymlinkTarget()))
	}
	return attrs, nil
}

// Target returns a symlink's stored target, or an error if vi is not a
// symlink.
func (vi *VInode) Target() (string, error) {
	in := vi.inode()
	if in.Mode&syscall.S_IFMT != syscall.S_IFLNK {
		return "", fmt.Errorf("fs: not a symlink: %w", pmerr.ErrInvalidArgument)
	}
	return in.SymlinkTarget(), nil
}
