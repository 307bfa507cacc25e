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

// GetDefaultLoggingConfig returns the logging config used before a config
// file or flags have been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   LogFormatText,
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultConfig returns the zero-file, zero-flag configuration: every
// field a new Pool needs a value for, at its safest default.
func GetDefaultConfig() Config {
	return Config{
		PoolSize: MinPoolSize,
		Heap: HeapConfig{
			ZoneMaxSize: DefaultZoneMaxSize,
			ChunkSize:   DefaultChunkSize,
		},
		Redo: RedoConfig{
			Capacity: DefaultRedoLogCapacity,
			SyncMode: SyncModeStrict,
		},
		FileSystem: FileSystemConfig{
			DirMode:              0755,
			Uid:                  -1,
			Gid:                  -1,
			OrphanReapRatePerSec: DefaultOrphanReapRatePerSec,
			OrphanReapBurst:      DefaultOrphanReapBurst,
		},
		Logging: GetDefaultLoggingConfig(),
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9327",
		},
	}
}
