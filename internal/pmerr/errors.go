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

// Package pmerr defines the error taxonomy shared by palloc, the redo log
// and the filesystem collaborator. Errors propagate as plain Go errors
// wrapped with fmt.Errorf("...: %w", ...) and are tested with errors.Is.
package pmerr

import "errors"

var (
	// ErrOutOfSpace is returned when a bucket cannot satisfy a reservation.
	ErrOutOfSpace = errors.New("pmemcore: out of space")

	// ErrCanceled is returned when a constructor callback aborts a
	// reservation before any durable state has changed.
	ErrCanceled = errors.New("pmemcore: constructor canceled")

	// ErrInvalidArgument covers malformed arguments to a public operation.
	ErrInvalidArgument = errors.New("pmemcore: invalid argument")

	// ErrNotFound is returned when a lookup (dirent, inode, block) fails.
	ErrNotFound = errors.New("pmemcore: not found")

	// ErrExists is returned by creating operations when the target name
	// already exists, e.g. O_EXCL.
	ErrExists = errors.New("pmemcore: already exists")

	// ErrNotADirectory is returned when a path component that must be a
	// directory is not one.
	ErrNotADirectory = errors.New("pmemcore: not a directory")

	// ErrIsADirectory is returned when an operation that requires a
	// non-directory is given one.
	ErrIsADirectory = errors.New("pmemcore: is a directory")

	// ErrNameTooLong is returned when a path component exceeds the 255-byte
	// + nul filename limit.
	ErrNameTooLong = errors.New("pmemcore: name too long")

	// ErrUnsupportedFlag is returned for open flags that are rejected
	// outright (O_ASYNC, O_PATH) or bit patterns that are unrecognized.
	ErrUnsupportedFlag = errors.New("pmemcore: unsupported flag")

	// ErrCorruption is returned for checksum mismatches, impossible heap
	// states, or debug-build double-free detection. It is always fatal:
	// the pool is never silently patched. The one exception is a torn
	// redo log, which recovery zeroes rather than surfacing as an error.
	ErrCorruption = errors.New("pmemcore: corruption detected")
)
