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

// Rationalize updates config fields based on the values of other fields,
// after flags and any config file have been merged but before validation.
func Rationalize(c *Config) error {
	if c.Debug.LogMutex && c.Logging.Severity.Rank() > TraceLogSeverity.Rank() {
		c.Logging.Severity = TraceLogSeverity
	}

	if c.Heap.ZoneMaxSize <= 0 {
		c.Heap.ZoneMaxSize = DefaultZoneMaxSize
	}
	if c.Heap.ChunkSize <= 0 {
		c.Heap.ChunkSize = DefaultChunkSize
	}
	if c.Redo.Capacity <= 0 {
		c.Redo.Capacity = DefaultRedoLogCapacity
	}
	if c.Redo.SyncMode == "" {
		c.Redo.SyncMode = SyncModeStrict
	}

	return nil
}
