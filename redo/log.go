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

// Package redo implements the mechanism by which a batch of 8-byte
// persistent-memory word writes is committed atomically in the face of
// sudden power loss.
//
// Entry 0 of the log holds a checksum pair {off_csum, val_csum} covering
// entries 1..finish. The finish flag is bit 0 of an entry's offset field;
// the offset proper is the remaining 63 bits. A crash before the checksum
// entry is written leaves the log either zeroed or with a checksum that
// does not match the payload -- both are "torn" and are discarded at
// recovery. A crash after the checksum entry leaves a log that replays
// idempotently, because every entry is a whole-word write to a fixed
// offset.
package redo

import (
	"encoding/binary"
	"fmt"

	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
)

const (
	// entrySize is the on-media size of one {offset, value} pair.
	entrySize = 16

	// finishFlag is bit 0 of the offset field, marking the last entry of a
	// batch.
	finishFlag uint64 = 1

	// cacheLine is the alignment boundary the commit sequence rounds its
	// dirty range up to before the bulk copy, and the size of the slack
	// fill pattern (0xFF) used to pad it.
	cacheLine = 64

	entriesPerCacheLine = cacheLine / entrySize
)

// Entry is one redo-log slot: either a payload write {offset, value} or,
// for index 0, a checksum pair {off_csum, val_csum}.
type Entry struct {
	Offset uint64
	Value  uint64
}

func (e Entry) finished() bool { return e.Offset&finishFlag != 0 }
func (e Entry) target() uint64 { return e.Offset &^ finishFlag }

// CheckOffset validates that a recovered offset lies within the intended
// persistent region -- defense in depth against corruption, per spec §4.1.
type CheckOffset func(offset uint64) bool

// Log is a cache-line-aligned durable array of fixed-width entries, plus
// the leading checksum entry, mapped at a fixed offset within a pmem.Region.
type Log struct {
	ops  pmem.Ops
	base pmem.Ref
	cap  int // number of payload entries, i.e. capacity excluding entry 0
}

// Size returns the number of bytes a log with the given entry capacity
// occupies, including the checksum entry.
func Size(capacity int) int {
	return (capacity + 1) * entrySize
}

// CapacityForBytes returns the largest entry capacity whose Size fits
// within budget bytes, used by pool formatting to turn a configured byte
// budget into an entry count.
func CapacityForBytes(budget int64) int {
	n := int(budget/entrySize) - 1
	if n < 0 {
		return 0
	}
	return n
}

// Open wraps an already-allocated, cache-line-aligned log region. It does
// not perform recovery; call Recover explicitly before any client work, as
// required by spec §4.1.
func Open(ops pmem.Ops, base pmem.Ref, capacity int) *Log {
	return &Log{ops: ops, base: base, cap: capacity}
}

// Capacity returns the maximum number of payload entries this log can hold.
func (l *Log) Capacity() int { return l.cap }

func (l *Log) entryOffset(i int) pmem.Ref {
	return l.base + pmem.Ref(i*entrySize)
}

func (l *Log) readEntry(i int) Entry {
	b := l.ops.Data()[l.entryOffset(i):]
	return Entry{
		Offset: binary.LittleEndian.Uint64(b[0:8]),
		Value:  binary.LittleEndian.Uint64(b[8:16]),
	}
}

func encodeEntry(b []byte, e Entry) {
	binary.LittleEndian.PutUint64(b[0:8], e.Offset)
	binary.LittleEndian.PutUint64(b[8:16], e.Value)
}

// checksum is a simple additive/rotational mix over the payload entries;
// it only needs to distinguish "torn" (partially written) logs from
// "complete" ones, not resist adversarial tampering.
func checksum(entries []Entry) (offCsum, valCsum uint64) {
	for _, e := range entries {
		offCsum = offCsum*31 + e.Offset
		valCsum = valCsum*37 + e.Value
	}
	return
}

// Commit stages entries into a volatile shadow copy, marks the last entry
// finished, computes and stores the checksum, bulk-copies the shadow into
// the persistent log, then replays it -- all per spec §4.1's six-step
// commit sequence. entries must be non-empty and no longer than Capacity().
func (l *Log) Commit(entries []Entry, check CheckOffset) error {
	n := len(entries)
	if n == 0 {
		return fmt.Errorf("redo: commit with no entries: %w", pmerr.ErrInvalidArgument)
	}
	if n > l.cap {
		return fmt.Errorf("redo: %d entries exceeds capacity %d: %w", n, l.cap, pmerr.ErrInvalidArgument)
	}

	// Step 1+2: volatile shadow copy, finish flag set on the last entry.
	shadow := make([]Entry, n)
	copy(shadow, entries)
	shadow[n-1].Offset |= finishFlag

	// Step 3: checksum over entries 1..finish (i.e. the whole shadow).
	offCsum, valCsum := checksum(shadow)

	// Step 4: round the dirty range up to the next cache-line boundary,
	// filling slack with 0xFF, then step 5: bulk-copy shadow (including the
	// checksum entry) into the persistent log and drain.
	dirtyEntries := n + 1 // +1 for the checksum entry
	dirtyBytes := dirtyEntries * entrySize
	paddedBytes := ((dirtyBytes + cacheLine - 1) / cacheLine) * cacheLine
	if limit := Size(l.cap); paddedBytes > limit {
		paddedBytes = limit // slack never runs past the end of the log
	}

	buf := make([]byte, paddedBytes)
	for i := range buf {
		buf[i] = 0xFF
	}
	encodeEntry(buf[0:entrySize], Entry{Offset: offCsum, Value: valCsum})
	for i, e := range shadow {
		encodeEntry(buf[(i+1)*entrySize:(i+2)*entrySize], e)
	}

	l.ops.Memcpy(l.base, buf)
	l.ops.Drain()

	// Step 6: walk entries 1..finish, applying each value; the final write
	// uses a stronger persist. Then zero the first cache line and drain.
	if err := l.apply(shadow, check); err != nil {
		return err
	}

	l.ops.Memset(l.base, 0x00, cacheLine)
	l.ops.Drain()

	return nil
}

// apply writes each entry's value to base+offset, flushing every write and
// persisting the last one.
func (l *Log) apply(entries []Entry, check CheckOffset) error {
	for i, e := range entries {
		target := e.target()
		if check != nil && !check(target) {
			return fmt.Errorf("redo: recovered offset %d outside intended region: %w", target, pmerr.ErrCorruption)
		}

		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], e.Value)
		l.ops.Memcpy(pmem.Ref(target), b[:])

		if i == len(entries)-1 {
			l.ops.Persist(pmem.Ref(target), 8)
		} else {
			l.ops.Flush(pmem.Ref(target), 8)
		}
	}
	return nil
}

// Recover is invoked at pool open, before any client work. It classifies
// the log as empty, complete or torn (spec §3.2 invariant 4) and, for a
// complete log, replays it exactly as Commit's step 6 would.
func (l *Log) Recover(check CheckOffset) error {
	zero := l.readEntry(0)
	if zero.Offset == 0 && zero.Value == 0 {
		return nil // empty: nothing to do
	}

	finishIdx := -1
	for i := 1; i <= l.cap; i++ {
		if l.readEntry(i).finished() {
			finishIdx = i
			break
		}
	}
	if finishIdx == -1 {
		return nil // never used / no finish flag found within capacity
	}

	payload := make([]Entry, finishIdx)
	for i := 0; i < finishIdx; i++ {
		payload[i] = l.readEntry(i + 1)
	}

	wantOff, wantVal := checksum(payload)
	if wantOff != zero.Offset || wantVal != zero.Value {
		// Torn: checksum entry was never durably written, or was written
		// over a payload that doesn't match. Discard.
		l.ops.Memset(l.base, 0x00, cacheLine)
		l.ops.Drain()
		return nil
	}

	if err := l.apply(payload, check); err != nil {
		return err
	}

	l.ops.Memset(l.base, 0x00, cacheLine)
	l.ops.Drain()
	return nil
}

// State reports the durable shape of the log, for diagnostics and tests.
type State int

const (
	StateEmpty State = iota
	StateComplete
	StateTorn
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateComplete:
		return "complete"
	case StateTorn:
		return "torn"
	default:
		return "unknown"
	}
}

// Inspect classifies the log's current durable shape without mutating it.
// It exists for tests and fsck-style tooling.
func (l *Log) Inspect() State {
	zero := l.readEntry(0)
	if zero.Offset == 0 && zero.Value == 0 {
		return StateEmpty
	}

	finishIdx := -1
	for i := 1; i <= l.cap; i++ {
		if l.readEntry(i).finished() {
			finishIdx = i
			break
		}
	}
	if finishIdx == -1 {
		return StateEmpty
	}

	payload := make([]Entry, finishIdx)
	for i := 0; i < finishIdx; i++ {
		payload[i] = l.readEntry(i + 1)
	}
	wantOff, wantVal := checksum(payload)
	if wantOff != zero.Offset || wantVal != zero.Value {
		return StateTorn
	}
	return StateComplete
}
