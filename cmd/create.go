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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmfs/pmemcore/fs"
	"github.com/nvmfs/pmemcore/pool"
)

var createCmd = &cobra.Command{
	Use:   "create POOL_PATH",
	Short: "Format a new pool file and populate its root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := cmd.Flags().Set("pool-path", path); err != nil {
			return err
		}
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if c.PoolSize <= 0 {
			return fmt.Errorf("--pool-size must be set to a positive byte count for create")
		}

		p, err := pool.Create(path, c.PoolSize, *c)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		defer p.Close()

		fsys, err := fs.New(p, uint32(c.FileSystem.Uid), uint32(c.FileSystem.Gid), uint32(c.FileSystem.DirMode))
		if err != nil {
			return fmt.Errorf("initialize root directory: %w", err)
		}
		_ = fsys.Root()

		fmt.Printf("created pool %s (%d bytes)\n", path, c.PoolSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
