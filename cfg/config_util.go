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

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Load builds a Config from defaults, an optional YAML config file and the
// flags bound by BindFlags, in increasing order of precedence.
func Load(configFile string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	def := GetDefaultConfig()
	v.SetConfigType("yaml")
	v.SetDefault("pool-size", def.PoolSize)
	v.SetDefault("heap.zone-max-size", def.Heap.ZoneMaxSize)
	v.SetDefault("heap.chunk-size", def.Heap.ChunkSize)
	v.SetDefault("redo.capacity", def.Redo.Capacity)
	v.SetDefault("redo.sync-mode", string(def.Redo.SyncMode))
	v.SetDefault("file-system.uid", def.FileSystem.Uid)
	v.SetDefault("file-system.gid", def.FileSystem.Gid)
	v.SetDefault("logging.severity", string(def.Logging.Severity))
	v.SetDefault("logging.format", string(def.Logging.Format))
	v.SetDefault("metrics.listen-addr", def.Metrics.ListenAddr)

	if configFile != "" {
		f, err := os.Open(configFile)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := v.ReadConfig(f); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if flagSet != nil {
		if err := v.BindPFlags(flagSet); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	c := def
	decodeOpt := viper.DecodeHook(DecodeHook())
	yamlTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if err := v.Unmarshal(&c, decodeOpt, yamlTags); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Rationalize(&c); err != nil {
		return nil, fmt.Errorf("rationalize config: %w", err)
	}
	if err := ValidateConfig(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &c, nil
}
