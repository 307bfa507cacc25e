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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigDefaultIsInvalidWithoutPoolPath(t *testing.T) {
	c := GetDefaultConfig()

	assert.ErrorContains(t, ValidateConfig(&c), "pool-path is required")
}

func TestValidateConfigRejectsChunkLargerThanZone(t *testing.T) {
	c := GetDefaultConfig()
	c.PoolPath = "/tmp/pool"
	c.Heap.ChunkSize = c.Heap.ZoneMaxSize + 1

	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsUndersizedRedoCapacity(t *testing.T) {
	c := GetDefaultConfig()
	c.PoolPath = "/tmp/pool"
	c.Redo.Capacity = MinRedoLogCapacity - 1

	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	c := GetDefaultConfig()
	c.PoolPath = "/tmp/pool"

	assert.NoError(t, ValidateConfig(&c))
}
