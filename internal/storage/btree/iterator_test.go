package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillTree(t *testing.T, tree *BPlusTree, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(intKey(i), uint64(i)))
	}
}

func TestRangeBounds(t *testing.T) {
	tree, _ := newTestTree(t)
	fillTree(t, tree, 1000)

	tests := []struct {
		name    string
		low     *Bound
		high    *Bound
		reverse bool
		first   uint64
		last    uint64
		count   int
	}{
		{"inclusive", &Bound{intKey(100), true}, &Bound{intKey(200), true}, false, 100, 200, 101},
		{"exclusive", &Bound{intKey(100), false}, &Bound{intKey(200), false}, false, 101, 199, 99},
		{"open low", nil, &Bound{intKey(9), true}, false, 0, 9, 10},
		{"open high", &Bound{intKey(990), true}, nil, false, 990, 999, 10},
		{"reverse inclusive", &Bound{intKey(100), true}, &Bound{intKey(200), true}, true, 200, 100, 101},
		{"reverse exclusive", &Bound{intKey(100), false}, &Bound{intKey(200), false}, true, 199, 101, 99},
		{"reverse open", nil, nil, true, 999, 0, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := collect(t, tree.Range(tt.low, tt.high, tt.reverse))
			require.Len(t, values, tt.count)
			assert.Equal(t, tt.first, values[0])
			assert.Equal(t, tt.last, values[len(values)-1])
		})
	}
}

func TestRangeEmpty(t *testing.T) {
	tree, _ := newTestTree(t)
	assert.Empty(t, collect(t, tree.Range(nil, nil, false)))

	fillTree(t, tree, 10)
	assert.Empty(t, collect(t, tree.Range(&Bound{intKey(5), false}, &Bound{intKey(5), true}, false)))
	assert.Empty(t, collect(t, tree.Range(&Bound{intKey(20), true}, nil, false)))
	assert.Empty(t, collect(t, tree.Range(nil, &Bound{intKey(0), false}, true)))
}

func TestPrefix(t *testing.T) {
	tree, _ := newTestTree(t)
	for i, k := range []string{"app", "apple", "apricot", "b", "ap\xff", "aq"} {
		require.NoError(t, tree.Insert([]byte(k), uint64(i)))
	}

	var keys []string
	it := tree.Prefix([]byte("ap"), false)
	for k, _, ok := it.Next(); ok; k, _, ok = it.Next() {
		keys = append(keys, string(k))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"app", "apple", "apricot", "ap\xff"}, keys)

	k, _, ok, err := tree.Last([]byte("ap"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ap\xff", string(k))

	k, _, ok, err = tree.First(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "app", string(k))
}

func TestIteratorSurvivesDeletes(t *testing.T) {
	tree, _ := newTestTree(t)
	fillTree(t, tree, 2000)

	seen := make(map[uint64]int)
	it := tree.Range(nil, nil, false)
	defer it.Close()
	for key, v, ok := it.Next(); ok; key, v, ok = it.Next() {
		seen[v]++
		_, _, err := tree.Delete(key)
		require.NoError(t, err)
	}
	require.NoError(t, it.Err())

	assert.Len(t, seen, 2000)
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d", v)
	}
	count, err := tree.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIteratorSeesInsertsAhead(t *testing.T) {
	tree, _ := newTestTree(t)
	for i := 0; i < 100; i += 2 {
		require.NoError(t, tree.Insert(intKey(i), uint64(i)))
	}

	var values []uint64
	it := tree.Range(nil, nil, false)
	defer it.Close()
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		values = append(values, v)
		if v == 10 {
			require.NoError(t, tree.Insert(intKey(11), 11))
			require.NoError(t, tree.Insert(intKey(5), 5))
		}
	}
	require.NoError(t, it.Err())

	assert.Contains(t, values, uint64(11))
	assert.NotContains(t, values, uint64(5))
	assert.Len(t, values, 51)
}

func TestIteratorReverseWithInserts(t *testing.T) {
	tree, _ := newTestTree(t)
	fillTree(t, tree, 500)

	seen := make(map[uint64]bool)
	it := tree.Range(nil, nil, true)
	defer it.Close()
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		require.False(t, seen[v], "value %d returned twice", v)
		seen[v] = true
		require.NoError(t, tree.Insert(intKey(int(v)+10000), v+10000))
	}
	require.NoError(t, it.Err())
	assert.Len(t, seen, 500)
}

func TestIteratorClose(t *testing.T) {
	tree, _ := newTestTree(t)
	fillTree(t, tree, 10)

	it := tree.Range(nil, nil, false)
	_, _, ok := it.Next()
	require.True(t, ok)
	it.Close()
	_, _, ok = it.Next()
	assert.False(t, ok)
}
