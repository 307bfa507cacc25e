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
	"github.com/stretchr/testify/require"
)

func TestOctalRoundTrip(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.Equal(t, Octal(0755), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))
}

func TestLogSeverityRank(t *testing.T) {
	assert.True(t, TraceLogSeverity.Rank() < DebugLogSeverity.Rank())
	assert.True(t, ErrorLogSeverity.Rank() > WarningLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("BOGUS").Rank())
}

func TestLogSeverityUnmarshalRejectsUnknown(t *testing.T) {
	var s LogSeverity
	assert.Error(t, s.UnmarshalText([]byte("VERBOSE")))
}

func TestSyncModeUnmarshal(t *testing.T) {
	var m SyncMode
	require.NoError(t, m.UnmarshalText([]byte("RELAXED")))
	assert.Equal(t, SyncModeRelaxed, m)

	assert.Error(t, m.UnmarshalText([]byte("async")))
}
