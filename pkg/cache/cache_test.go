package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGetOrBuildCachesResult(t *testing.T) {
	c, err := New[string, int](16, 1<<20, time.Minute)
	require.NoError(t, err)

	var builds int32
	build := func() (int, types.ReadSet, int, error) {
		atomic.AddInt32(&builds, 1)
		return 42, types.ReadSet{}, 8, nil
	}

	v, err := c.GetOrBuild("k1", build)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	v, err = c.GetOrBuild("k1", build)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&builds))
}

func TestInvalidateDropsMatchingEntry(t *testing.T) {
	c, err := New[string, int](16, 1<<20, time.Minute)
	require.NoError(t, err)

	var rs types.ReadSet
	rs.Add(types.ReadSetEntry{IndexName: "tab_users_1/by_status", Interval: types.Prefix([]byte("active"))})

	build := func() (int, types.ReadSet, int, error) { return 1, rs, 8, nil }
	_, err = c.GetOrBuild("k1", build)
	require.NoError(t, err)

	c.Invalidate("tab_users_1/by_status", []byte("active\x00u1"))

	var builds int32
	_, err = c.GetOrBuild("k1", func() (int, types.ReadSet, int, error) {
		atomic.AddInt32(&builds, 1)
		return 2, rs, 8, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&builds), "invalidated entry must be rebuilt")
}

func TestCacheEvictsByByteBudget(t *testing.T) {
	c, err := New[int, int](100, 10, time.Minute)
	require.NoError(t, err)

	build := func(v int) func() (int, types.ReadSet, int, error) {
		return func() (int, types.ReadSet, int, error) { return v, types.ReadSet{}, 6, nil }
	}

	_, err = c.GetOrBuild(1, build(1))
	require.NoError(t, err)
	_, err = c.GetOrBuild(2, build(2))
	require.NoError(t, err)

	require.LessOrEqual(t, c.usedBytes, 10)
}

func TestStaleEntryNeverServed(t *testing.T) {
	c, err := New[string, int](16, 1<<20, time.Millisecond)
	require.NoError(t, err)

	_, err = c.GetOrBuild("k1", func() (int, types.ReadSet, int, error) {
		return 1, types.ReadSet{}, 8, nil
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	var builds int32
	_, err = c.GetOrBuild("k1", func() (int, types.ReadSet, int, error) {
		atomic.AddInt32(&builds, 1)
		return 2, types.ReadSet{}, 8, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&builds))
}
