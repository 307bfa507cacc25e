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
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvmfs/pmemcore/fs"
	"github.com/nvmfs/pmemcore/pool"
)

var lsCmd = &cobra.Command{
	Use:   "ls POOL_PATH [PATH]",
	Short: "List a directory's entries (single path component resolution only)",
	Args:  cobra.RangeArgs(1, 2),
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

		dir := fsys.Root()
		if len(args) == 2 {
			for _, comp := range strings.Split(strings.Trim(args[1], "/"), "/") {
				if comp == "" {
					continue
				}
				dir, err = fsys.Lookup(dir, comp)
				if err != nil {
					return fmt.Errorf("lookup %q: %w", comp, err)
				}
			}
		}

		entries, err := fsys.Readdir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-40s %#x\n", e.Name, uint64(e.Ino))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
