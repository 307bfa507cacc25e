// Copyright 2024 Google LLC
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

package common

// Operation names used as metric and log-field labels across palloc, redo
// and the filesystem collaborator.
const (
	OpAlloc        = "Alloc"
	OpFree         = "Free"
	OpRealloc      = "Realloc"
	OpRedoCommit   = "RedoCommit"
	OpRedoRecover  = "RedoRecover"
	OpPoolOpen     = "PoolOpen"
	OpPoolCreate   = "PoolCreate"
	OpPoolClose    = "PoolClose"
	OpOrphanInsert = "OrphanInsert"
	OpOrphanRemove = "OrphanRemove"
	OpOrphanReap   = "OrphanReap"
	OpLink         = "Link"
	OpUnlink       = "Unlink"
	OpRename       = "Rename"
	OpMkDir        = "MkDir"
	OpOpenFile     = "OpenFile"
	OpStat         = "Stat"
	OpLstat        = "Lstat"
)
