package exthash

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_InsertFindRemove(t *testing.T) {
	t.Parallel()

	table := New[string, int](4, StringHasher[string])

	_, ok := table.Find("missing")
	assert.False(t, ok)
	assert.False(t, table.Remove("missing"))

	table.Insert("foo", 1)
	table.Insert("bar", 2)

	v, ok := table.Find("foo")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// Insert overwrites.
	table.Insert("foo", 10)
	v, ok = table.Find("foo")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	assert.True(t, table.Remove("foo"))
	_, ok = table.Find("foo")
	assert.False(t, ok)

	v, ok = table.Find("bar")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTable_SplitsKeepEverythingFindable(t *testing.T) {
	t.Parallel()

	table := New[int64, int64](2, IntHasher[int64])

	const n = 1000
	for i := int64(0); i < n; i++ {
		table.Insert(i, i*10)
	}

	assert.Equal(t, n, table.Len())
	assert.GreaterOrEqual(t, table.NumBuckets(), 2)
	assert.GreaterOrEqual(t, table.GlobalDepth(), 1)

	for i := int64(0); i < n; i++ {
		v, ok := table.Find(i)
		require.True(t, ok, "key %d", i)
		assert.Equal(t, i*10, v)
	}

	// Local depths never exceed the global depth.
	depth := table.GlobalDepth()
	for i := 0; i < 1<<depth; i++ {
		assert.LessOrEqual(t, table.LocalDepth(i), depth)
	}

	// The directory never shrinks on remove.
	for i := int64(0); i < n; i++ {
		require.True(t, table.Remove(i))
	}
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, depth, table.GlobalDepth())
	assert.GreaterOrEqual(t, table.NumBuckets(), 1)
}

func TestTable_GlobalDepthNonDecreasing(t *testing.T) {
	t.Parallel()

	table := New[string, int](2, StringHasher[string])

	last := table.GlobalDepth()
	for i := 0; i < 256; i++ {
		table.Insert(fmt.Sprintf("key-%d", i), i)
		depth := table.GlobalDepth()
		assert.GreaterOrEqual(t, depth, last)
		last = depth
	}
}

func TestTable_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	table := New[int64, int64](8, IntHasher[int64])

	const (
		workers = 8
		perWorker = 200
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := int64(w * perWorker)
			for i := int64(0); i < perWorker; i++ {
				table.Insert(base+i, base+i)
			}
			for i := int64(0); i < perWorker; i++ {
				_, ok := table.Find(base + i)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, table.Len())
}

func TestTable_Range(t *testing.T) {
	t.Parallel()

	table := New[int64, int64](4, IntHasher[int64])
	for i := int64(0); i < 50; i++ {
		table.Insert(i, i)
	}

	seen := make(map[int64]struct{})
	table.Range(func(key, value int64) bool {
		assert.Equal(t, key, value)
		seen[key] = struct{}{}
		return true
	})
	assert.Len(t, seen, 50)

	// Early exit stops the walk.
	count := 0
	table.Range(func(key, value int64) bool {
		count++
		return count < 10
	})
	assert.Equal(t, 10, count)
}
