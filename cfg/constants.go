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

package cfg

const (
	// Zone, chunk and run geometry, in bytes. These mirror the on-media
	// layout in the heap package and cannot change for an existing pool.

	DefaultZoneMaxSize    int64 = 16 << 30 // 16 GiB
	MinPoolSize           int64 = 8 << 20  // 8 MiB
	DefaultChunkSize      int64 = 256 << 10
	DefaultRunUnitSize    int64 = 64

	// Redo log sizing.

	DefaultRedoLogCapacity int64 = 4 << 20 // 4 MiB on media; see redo.CapacityForBytes
	MinRedoLogCapacity     int64 = 64 << 10

	// Orphan reaper throttling.

	DefaultOrphanReapRatePerSec = 50
	DefaultOrphanReapBurst      = 200
)
