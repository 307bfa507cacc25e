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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvmfs/pmemcore/pool"
)

var statCmd = &cobra.Command{
	Use:   "stat POOL_PATH",
	Short: "Print a pool's superblock summary",
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

		sb := p.Superblock()
		fmt.Printf("path:           %s\n", p.Path())
		fmt.Printf("pool id:        %s\n", uuid.UUID(sb.PoolID).String())
		fmt.Printf("version:        %d\n", sb.Version)
		fmt.Printf("initialized:    %t\n", sb.Initialized)
		fmt.Printf("root oid:       %#x\n", uint64(sb.RootOid))
		fmt.Printf("orphaned oid:   %#x\n", uint64(sb.OrphanedOid))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
