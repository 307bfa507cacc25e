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

// Package pool implements the lifecycle (create/open/close) of a pmemcore
// pool: the mapped region, the superblock, the redo log and the rebuilt
// heap bucket index, plus the process-wide pool registry described in
// spec.md's design note "Global pool registry".
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvmfs/pmemcore/cfg"
	"github.com/nvmfs/pmemcore/heap"
	"github.com/nvmfs/pmemcore/internal/logger"
	"github.com/nvmfs/pmemcore/internal/metrics"
	"github.com/nvmfs/pmemcore/internal/pmem"
	"github.com/nvmfs/pmemcore/internal/pmerr"
	"github.com/nvmfs/pmemcore/redo"
)

// Pool is an open persistent-memory pool. It owns the mapped region, the
// durable superblock, the redo log and the volatile heap bucket index
// rebuilt from durable state. fs and cmd/pmemctl are built on top of it.
type Pool struct {
	path string
	ops  *pmem.Region

	sbMu sync.Mutex // guards durable mutation of the superblock's root/orphan fields
	sb   heap.Superblock

	redoBase pmem.Ref
	Redo     *redo.Log

	Layout heap.Layout
	Heap   *heap.Heap

	Cfg     cfg.Config
	Metrics *metrics.Handle
}

// registry is the process-wide pool table (design note "Global pool
// registry"): a single mutex guards registration at open/close time; every
// hot path (allocation, redo commit, bucket lookup) goes through the
// per-pool locks inside Heap and Redo instead.
var (
	registryMu sync.Mutex
	registry   = map[string]*Pool{}
)

func register(path string, p *Pool) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[path]; ok {
		return fmt.Errorf("pool: %s is already open in this process: %w", path, pmerr.ErrExists)
	}
	registry[path] = p
	return nil
}

func unregister(path string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, path)
}

// Lookup returns the already-open Pool for path, if this process has one.
func Lookup(path string) (*Pool, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	p, ok := registry[path]
	return p, ok
}

// layoutFor computes the redo-log and heap-zone geometry for a mapped
// region of the given total size, per the configured chunk size and redo
// capacity budget.
func layoutFor(ops *pmem.Region, c cfg.Config) (redoBase pmem.Ref, redoCap int, zoneLayout heap.Layout) {
	redoBase = pmem.Ref(heap.SuperblockSize)
	redoCap = redo.CapacityForBytes(c.Redo.Capacity)

	zoneBase := redoBase + pmem.Ref(redo.Size(redoCap))
	zoneSize := int64(ops.Len()) - int64(zoneBase)
	if c.Heap.ZoneMaxSize > 0 && c.Heap.ZoneMaxSize < zoneSize {
		zoneSize = c.Heap.ZoneMaxSize
	}
	zoneLayout = heap.NewLayout(zoneBase, zoneSize, c.Heap.ChunkSize)
	return
}

// Create formats a new pool file at path and opens it. The superblock's
// Initialized byte is the last word written, only after the heap's header
// table and first free span are durable, per spec §3.2 invariant 5: a
// crash mid-format is simply retried as pool creation that never finished.
func Create(path string, size int64, c cfg.Config) (*Pool, error) {
	installLogger(c.Logging)
	ctx := context.Background()

	ops, err := pmem.Create(path, size)
	if err != nil {
		return nil, err
	}

	redoBase, redoCap, layout := layoutFor(ops, c)
	redoLog := redo.Open(ops, redoBase, redoCap)
	h := heap.Create(ops, layout, 0)

	id := uuid.New()
	sb := heap.Superblock{Version: 1, PoolID: [16]byte(id)}
	writeSuperblock(ops, sb)

	sb.Initialized = true
	writeSuperblock(ops, sb)

	p := &Pool{
		path:     path,
		ops:      ops,
		sb:       sb,
		redoBase: redoBase,
		Redo:     redoLog,
		Layout:   layout,
		Heap:     h,
		Cfg:      c,
		Metrics:  metrics.New(filepath.Base(path)),
	}
	if err := register(path, p); err != nil {
		ops.Close()
		return nil, err
	}

	logger.Info(ctx, "pool created", "path", path, "size", size, "pool_id", uuid.UUID(sb.PoolID).String())
	return p, nil
}

func writeSuperblock(ops pmem.Ops, sb heap.Superblock) {
	buf := heap.WriteSuperblock(sb)
	ops.Memcpy(0, buf[:])
	ops.Persist(0, heap.SuperblockSize)
}

// Open maps an existing pool file, replays any pending redo log entries
// (spec §4.1: "invoked at pool open, before any client work"), then
// rebuilds the volatile bucket index from durable chunk headers.
func Open(path string, c cfg.Config) (*Pool, error) {
	installLogger(c.Logging)
	ctx := context.Background()

	ops, err := pmem.Open(path)
	if err != nil {
		return nil, err
	}

	sb := heap.ReadSuperblock(ops.Data())
	if !sb.Initialized {
		ops.Close()
		return nil, fmt.Errorf("pool: %s is half-formatted: %w", path, pmerr.ErrCorruption)
	}

	redoBase, redoCap, layout := layoutFor(ops, c)
	redoLog := redo.Open(ops, redoBase, redoCap)

	poolEnd := pmem.Ref(ops.Len())
	redoLogEnd := redoBase + pmem.Ref(redo.Size(redoCap))
	checkOffset := func(off uint64) bool {
		o := pmem.Ref(off)
		if o >= redoBase && o < redoLogEnd {
			return false // the log region itself is never a recovery target
		}
		return o < poolEnd
	}

	// A single zone today; the errgroup shape fans out per-zone recovery
	// and rebuild so a multi-zone pool only needs more entries in zones,
	// not a different Open.
	type zone struct {
		layout heap.Layout
		id     uint32
	}
	zones := []zone{{layout: layout, id: 0}}
	heaps := make([]*heap.Heap, len(zones))

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return redoLog.Recover(checkOffset)
	})
	if err := g.Wait(); err != nil {
		ops.Close()
		return nil, fmt.Errorf("pool: %s: redo recovery: %w", path, err)
	}

	g2, _ := errgroup.WithContext(ctx)
	for i, z := range zones {
		i, z := i, z
		g2.Go(func() error {
			heaps[i] = heap.Open(ops, z.layout, z.id)
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		ops.Close()
		return nil, err
	}

	p := &Pool{
		path:     path,
		ops:      ops,
		sb:       sb,
		redoBase: redoBase,
		Redo:     redoLog,
		Layout:   layout,
		Heap:     heaps[0],
		Cfg:      c,
		Metrics:  metrics.New(filepath.Base(path)),
	}
	if err := register(path, p); err != nil {
		ops.Close()
		return nil, err
	}

	logger.Info(ctx, "pool opened", "path", path, "pool_id", uuid.UUID(sb.PoolID).String())
	return p, nil
}

// Close unmaps the pool and removes it from the process registry. It does
// not remove the backing file.
func (p *Pool) Close() error {
	unregister(p.path)
	logger.Info(context.Background(), "pool closed", "path", p.path)
	return p.ops.Close()
}

// Path returns the backing file path this pool was created or opened from.
func (p *Pool) Path() string { return p.path }

// Superblock returns a copy of the pool's durable root. Safe for
// concurrent use; fields are only ever mutated through SetRoots below.
func (p *Pool) Superblock() heap.Superblock {
	p.sbMu.Lock()
	defer p.sbMu.Unlock()
	return p.sb
}

// SetRoots durably updates the superblock's root and orphan-list offsets,
// the two fields the fs collaborator owns. This bypasses the redo log
// deliberately: the superblock's own fields change at most once per
// top-level object creation, and are always idempotent single-word writes.
func (p *Pool) SetRoots(rootOid, orphanedOid pmem.Ref) {
	p.sbMu.Lock()
	defer p.sbMu.Unlock()
	p.sb.RootOid = rootOid
	p.sb.OrphanedOid = orphanedOid
	writeSuperblock(p.ops, p.sb)
}

// Ops returns the pool's durable-write primitive, for callers (fs) that
// need to read or write pool-relative offsets directly.
func (p *Pool) Ops() pmem.Ops { return p.ops }

func installLogger(c cfg.LoggingConfig) {
	l, _ := logger.New(logger.Config{
		Format:     logFormatFrom(c.Format),
		Level:      levelFrom(c.Severity),
		FilePath:   c.FilePath,
		MaxSizeMB:  c.LogRotate.MaxFileSizeMb,
		MaxBackups: c.LogRotate.BackupFileCount,
	})
	logger.SetDefault(l)
}

func logFormatFrom(f cfg.LogFormat) logger.Format {
	if f == cfg.LogFormatJSON {
		return logger.FormatJSON
	}
	return logger.FormatText
}

func levelFrom(s cfg.LogSeverity) slog.Level {
	switch s {
	case cfg.TraceLogSeverity:
		return logger.LevelTrace
	case cfg.DebugLogSeverity:
		return logger.LevelDebug
	case cfg.WarningLogSeverity:
		return logger.LevelWarning
	case cfg.ErrorLogSeverity:
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
