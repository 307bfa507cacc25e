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

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (retain all) or positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if config cannot be used to
// create or open a pool.
func ValidateConfig(config *Config) error {
	if config.PoolPath == "" {
		return fmt.Errorf("pool-path is required")
	}
	if config.PoolSize < 0 {
		return fmt.Errorf("pool-size cannot be negative")
	}
	if config.PoolSize != 0 && config.PoolSize < MinPoolSize {
		return fmt.Errorf("pool-size must be at least %d bytes", MinPoolSize)
	}

	if config.Heap.ZoneMaxSize <= 0 {
		return fmt.Errorf("heap.zone-max-size must be positive")
	}
	if config.Heap.ChunkSize <= 0 || config.Heap.ChunkSize > config.Heap.ZoneMaxSize {
		return fmt.Errorf("heap.chunk-size must be positive and no larger than zone-max-size")
	}

	if config.Redo.Capacity < MinRedoLogCapacity {
		return fmt.Errorf("redo.capacity must be at least %d bytes", MinRedoLogCapacity)
	}
	if config.Redo.SyncMode != SyncModeStrict && config.Redo.SyncMode != SyncModeRelaxed {
		return fmt.Errorf("redo.sync-mode must be strict or relaxed")
	}

	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if config.Logging.Severity.Rank() < 0 {
		return fmt.Errorf("invalid logging.severity: %s", config.Logging.Severity)
	}

	return nil
}
