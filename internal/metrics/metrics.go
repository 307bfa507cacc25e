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

// Package metrics exposes Prometheus collectors for the allocator, redo
// log and orphan reaper. Each Pool registers its own collectors against a
// caller-supplied registry so that multiple pools in one process do not
// collide.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Handle groups every collector a single Pool instance needs. Construct
// with New and register with Register before use.
type Handle struct {
	AllocOps      *prometheus.CounterVec
	AllocBytes    prometheus.Counter
	FreeOps       prometheus.Counter
	RedoCommits   prometheus.Counter
	RedoRecovers  *prometheus.CounterVec
	OrphansReaped prometheus.Counter
	BucketDepth   *prometheus.GaugeVec
}

// New creates a Handle whose metric names are namespaced by pool.
func New(poolName string) *Handle {
	constLabels := prometheus.Labels{"pool": poolName}

	return &Handle{
		AllocOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "palloc",
			Name:        "operations_total",
			Help:        "Number of palloc_operation calls, partitioned by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),

		AllocBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "palloc",
			Name:        "allocated_bytes_total",
			Help:        "Cumulative bytes reserved across successful allocations.",
			ConstLabels: constLabels,
		}),

		FreeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "palloc",
			Name:        "frees_total",
			Help:        "Number of blocks returned to a bucket.",
			ConstLabels: constLabels,
		}),

		RedoCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "redo",
			Name:        "commits_total",
			Help:        "Number of redo log batches committed.",
			ConstLabels: constLabels,
		}),

		RedoRecovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "redo",
			Name:        "recoveries_total",
			Help:        "Number of redo log recovery outcomes, partitioned by state.",
			ConstLabels: constLabels,
		}, []string{"state"}),

		OrphansReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pmemcore",
			Subsystem:   "orphan",
			Name:        "reaped_total",
			Help:        "Number of orphaned inodes removed by the background reaper.",
			ConstLabels: constLabels,
		}),

		BucketDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "pmemcore",
			Subsystem:   "palloc",
			Name:        "bucket_free_blocks",
			Help:        "Current number of free blocks held by a bucket.",
			ConstLabels: constLabels,
		}, []string{"size_class"}),
	}
}

// Register adds every collector in h to reg.
func (h *Handle) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		h.AllocOps, h.AllocBytes, h.FreeOps, h.RedoCommits,
		h.RedoRecovers, h.OrphansReaped, h.BucketDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
