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

var fsckCmd = &cobra.Command{
	Use:   "fsck POOL_PATH",
	Short: "Walk a pool's inode graph and report reachability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Set("pool-path", args[0]); err != nil {
			return err
		}
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		p, err := pool.Open(args[0], *c)
		if err != nil {
			return fmt.Errorf("open pool: %w", err)
		}
		defer p.Close()

		fsys, err := fs.New(p, uint32(c.FileSystem.Uid), uint32(c.FileSystem.Gid), uint32(c.FileSystem.DirMode))
		if err != nil {
			return fmt.Errorf("attach file system: %w", err)
		}

		report, err := fs.Fsck(fsys)
		if err != nil {
			return err
		}

		fmt.Printf("inodes visited: %d (%d directories)\n", report.Inodes, report.Dirs)
		fmt.Printf("orphan list:    %d\n", report.Orphans)
		if len(report.DuplicateVisits) > 0 {
			fmt.Printf("WARNING: %d inode(s) linked from more than one directory entry reached by this walk\n", len(report.DuplicateVisits))
		}
		if len(report.UnreadableInodes) > 0 {
			fmt.Printf("WARNING: %d directory inode(s) could not be read\n", len(report.UnreadableInodes))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
}
