package generics

import (
	"github.com/stretchr/testify/require"
	"strconv"
	"testing"
)

func TestSliceMap(t *testing.T) {
	require.Equal(t, []string{"1", "2", "3"}, SliceMap([]int{1, 2, 3}, strconv.Itoa))
	require.Empty(t, SliceMap([]int{}, strconv.Itoa))
}

func TestSortedKeysAndValues(t *testing.T) {
	m := map[string]int{"b": 2, "c": 3, "a": 1}
	// Map iteration order is random, so repeat to show it is stably sorted.
	for range 100 {
		var keys []string
		var values []int
		for key, value := range SortedKeysAndValues(m) {
			keys = append(keys, key)
			values = append(values, value)
		}
		require.Equal(t, []string{"a", "b", "c"}, keys)
		require.Equal(t, []int{1, 2, 3}, values)
	}

	// Early break.
	var count int
	for range SortedKeysAndValues(m) {
		count++
		break
	}
	require.Equal(t, 1, count)
}
