// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestHumanizeInt(t *testing.T) {
	assert.Equal(t, "1,234,567", HumanizeInt(1234567))
	assert.Equal(t, "12", HumanizeInt(int64(12)))
}

func TestTable(t *testing.T) {
	table := Table([]string{"Op", "Calls"}, [][]string{{"Exp", "10"}, {"Dot22", "3"}}, 1)
	assert.Contains(t, table, "Op")
	assert.Contains(t, table, "Dot22")
	assert.Contains(t, table, "10")
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pBar := NewProgressBar(&buf, 10, "training")
	for range 10 {
		require.NoError(t, pBar.Update(1, "loss", "0.5"))
	}
	require.NoError(t, pBar.Finish())
	assert.Contains(t, buf.String(), "loss=0.5")
}
