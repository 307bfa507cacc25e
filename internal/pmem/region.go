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

// Package pmem implements the pmem_ops contract: a durable-write primitive
// (flush, drain, persist, memcpy, memset) backed by a memory-mapped file.
//
// There is no real persistent-memory hardware available to this module, so
// a MAP_SHARED file mapping plus msync/fdatasync stands in for the
// clflush/clwb + sfence instructions a real pmem_ops implementation would
// use. The non-temporal AVX/AVX-512 store kernels themselves are out of
// scope; only the contract they implement is specified here.
package pmem

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ref is a pool-relative byte offset. It is never a raw address: the pool
// may be re-mapped at a different virtual base between opens.
type Ref uint64

// NullRef is the reserved zero offset, used the way a nil pointer is used
// for ordinary heap references.
const NullRef Ref = 0

// TypedRef is a PersistentRef<T>-shaped wrapper: a Ref tagged with the Go
// type it is expected to reference. It carries no runtime representation of
// T; the phantom type parameter exists purely to catch offset misuse at
// compile time in client code.
type TypedRef[T any] struct {
	Off Ref
}

// Ops is the platform primitive contract described in spec §1: flush,
// drain, memcpy, memset, persist. Durable writes in this module go through
// an Ops value, except where a caller writes through the slice returned by
// Data (allocation constructors and realloc's copy do).
type Ops interface {
	// Memcpy copies src into the region at offset off. It does not, by
	// itself, make the write durable.
	Memcpy(off Ref, src []byte)

	// Memset fills n bytes at offset off with b. It does not, by itself,
	// make the write durable.
	Memset(off Ref, b byte, n int)

	// Flush schedules the bytes in [off, off+n) for eviction from volatile
	// caches. It does not block until the eviction is complete; pair with
	// Drain.
	Flush(off Ref, n int)

	// Drain blocks until all outstanding Flush calls have completed.
	Drain()

	// Persist is Flush immediately followed by Drain, for a single range.
	Persist(off Ref, n int)

	// Data returns a direct slice onto the mapped region. Callers that
	// mutate through it are responsible for their own Flush/Drain/Persist.
	Data() []byte
}

// Region is a mapped, persistent-memory-shaped range of a pool file. It
// implements Ops directly.
type Region struct {
	path string
	file *os.File
	data []byte

	mu sync.Mutex
}

var _ Ops = (*Region)(nil)

// Create makes a new backing file of the given size, zero-fills it and
// maps it MAP_SHARED. size is rounded up to the host page size.
func Create(path string, size int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("pmem: create %s: %w", path, err)
	}

	pageSize := int64(os.Getpagesize())
	size = ((size + pageSize - 1) / pageSize) * pageSize

	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("pmem: truncate %s: %w", path, err)
	}

	r, err := mapFile(f, int(size))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	return r, nil
}

// Open maps an existing pool file.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: stat %s: %w", path, err)
	}

	return mapFile(f, int(fi.Size()))
}

func mapFile(f *os.File, size int) (*Region, error) {
	if size == 0 {
		f.Close()
		return nil, errors.New("pmem: cannot map a zero-length pool file")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: mmap: %w", err)
	}

	return &Region{path: f.Name(), file: f, data: data}, nil
}

// Len returns the mapped size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Data implements Ops.
func (r *Region) Data() []byte { return r.data }

// At returns the mapped byte slice starting at off; it is the capability
// that a Ref must be combined with to yield a usable pointer, matching the
// "pool is mapped at base B" capability object of the design notes.
func (r *Region) At(off Ref) []byte {
	return r.data[off:]
}

// Memcpy implements Ops.
func (r *Region) Memcpy(off Ref, src []byte) {
	copy(r.data[off:int(off)+len(src)], src)
}

// Memset implements Ops.
func (r *Region) Memset(off Ref, b byte, n int) {
	dst := r.data[off : int(off)+n]
	for i := range dst {
		dst[i] = b
	}
}

// Flush implements Ops. A plain mmap has no per-cache-line flush
// instruction available from Go, so Flush is a no-op here; durability is
// achieved by Drain (msync), matching the documented contract shape of
// "schedule for eviction, then block on Drain" even though this backend
// collapses the two phases into one syscall.
func (r *Region) Flush(off Ref, n int) {}

// Drain implements Ops by forcing the mapped pages to the backing file.
func (r *Region) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		// A failed msync means durability can no longer be guaranteed;
		// this mirrors the fatal corruption handling of spec §7.
		panic(fmt.Sprintf("pmem: msync: %v", err))
	}
}

// Persist implements Ops.
func (r *Region) Persist(off Ref, n int) {
	r.Flush(off, n)
	r.Drain()
}

// Close unmaps and closes the backing file. It does not remove it.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Uintptr returns the virtual address currently backing offset off. It
// exists only for interop with code that needs unsafe.Pointer arithmetic
// (e.g. atomic word operations); callers must not retain the pointer past
// the lifetime of the mapping.
func (r *Region) Uintptr(off Ref) uintptr {
	return uintptr(unsafe.Pointer(&r.data[off]))
}
