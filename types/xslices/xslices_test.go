package xslices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlices(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, SortedKeys(map[string]int{"b": 1, "a": 2}))
	require.Empty(t, SortedKeys(map[int]bool{}))
	require.Equal(t, []int{2, 4}, Map([]int{1, 2}, func(x int) int { return 2 * x }))
	require.Equal(t, []string{}, Map([]int{}, func(x int) string { return "" }))
}
