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

// GENERATED CODE - DO NOT EDIT MANUALLY.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a pmemcore pool, built by
// layering defaults, a YAML file and command-line flags (in that order of
// increasing precedence) through Load.
type Config struct {
	// Path to the backing file or device mapped as the pool.
	PoolPath string `yaml:"pool-path"`

	// Size, in bytes, used only when creating a new pool.
	PoolSize int64 `yaml:"pool-size"`

	Heap HeapConfig `yaml:"heap"`

	Redo RedoConfig `yaml:"redo"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Debug DebugConfig `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type HeapConfig struct {
	ZoneMaxSize int64 `yaml:"zone-max-size"`

	ChunkSize int64 `yaml:"chunk-size"`
}

type RedoConfig struct {
	Capacity int64 `yaml:"capacity"`

	SyncMode SyncMode `yaml:"sync-mode"`
}

type FileSystemConfig struct {
	DirMode Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`

	OrphanReapRatePerSec float64 `yaml:"orphan-reap-rate-per-sec"`

	OrphanReapBurst int `yaml:"orphan-reap-burst"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format LogFormat `yaml:"format"`

	FilePath string `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	ListenAddr string `yaml:"listen-addr"`
}

// BindFlags registers every config-backed flag on flagSet and wires it to
// the matching viper key, so that Load's precedence (flag > file >
// default) falls out of viper.Unmarshal for free.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("pool-path", "", "", "Path to the backing file mapped as the pool.")
	if err = viper.BindPFlag("pool-path", flagSet.Lookup("pool-path")); err != nil {
		return err
	}

	flagSet.Int64P("pool-size", "", 0, "Size in bytes to use when creating a new pool.")
	if err = viper.BindPFlag("pool-size", flagSet.Lookup("pool-size")); err != nil {
		return err
	}

	flagSet.Int64P("zone-max-size", "", DefaultZoneMaxSize, "Maximum size of a single zone.")
	if err = viper.BindPFlag("heap.zone-max-size", flagSet.Lookup("zone-max-size")); err != nil {
		return err
	}

	flagSet.Int64P("chunk-size", "", DefaultChunkSize, "Size of a heap chunk, in bytes.")
	if err = viper.BindPFlag("heap.chunk-size", flagSet.Lookup("chunk-size")); err != nil {
		return err
	}

	flagSet.Int64P("redo-capacity", "", DefaultRedoLogCapacity, "Redo log capacity in bytes.")
	if err = viper.BindPFlag("redo.capacity", flagSet.Lookup("redo-capacity")); err != nil {
		return err
	}

	flagSet.StringP("redo-sync-mode", "", string(SyncModeStrict), "Redo commit durability: strict or relaxed.")
	if err = viper.BindPFlag("redo.sync-mode", flagSet.Lookup("redo-sync-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes. -1 uses the caller's uid.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes. -1 uses the caller's gid.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Stored as debug.exit-on-invariant-violation; no component acts on it.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Raise the log severity to TRACE; lock hold times are not measured.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum log severity: TRACE, DEBUG, INFO, WARNING or ERROR.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(LogFormatText), "Log line format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. Empty logs to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("metrics-enabled", "", false, "Serve Prometheus metrics.")
	if err = viper.BindPFlag("metrics.enabled", flagSet.Lookup("metrics-enabled")); err != nil {
		return err
	}

	flagSet.StringP("metrics-listen-addr", "", "127.0.0.1:9327", "Address the metrics server listens on.")
	if err = viper.BindPFlag("metrics.listen-addr", flagSet.Lookup("metrics-listen-addr")); err != nil {
		return err
	}

	return nil
}
