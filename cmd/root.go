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

// Package cmd implements pmemctl, the administrative CLI for a pmemcore
// pool: creating, inspecting and checking the persistent file backing a
// pool, outside of whatever process embeds the fs package as an actual
// POSIX front end.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvmfs/pmemcore/cfg"
)

var (
	cfgFile string
	bindErr error
)

var rootCmd = &cobra.Command{
	Use:   "pmemctl",
	Short: "Administer pmemcore persistent-memory pools",
	Long: `pmemctl creates, inspects and checks the persistent memory pools
that back a pmemfile-core file system: the allocator heap, the redo log
and the inode graph rooted at the pool's superblock.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

// Execute runs the selected subcommand, exiting the process on error the
// way the teacher's gcsfuse root command does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves a Config from defaults, --config-file and the flags
// bound to cmd, in that order of increasing precedence.
func loadConfig(cmd *cobra.Command) (*cfg.Config, error) {
	if bindErr != nil {
		return nil, bindErr
	}
	return cfg.Load(cfgFile, cmd.Flags())
}
