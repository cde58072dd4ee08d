package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCacheSetGet(t *testing.T) {
	rc, err := New(4 << 20)
	require.NoError(t, err)
	defer rc.Close()

	rc.Set(7, 1, []byte("first"))
	rc.Set(7, 2, []byte("second"))
	rc.Wait()

	got, ok := rc.Get(7, 1)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))

	got, ok = rc.Get(7, 2)
	require.True(t, ok)
	assert.Equal(t, "second", string(got))

	_, ok = rc.Get(8, 1)
	assert.False(t, ok)
}

func TestRecordCacheReturnsCopies(t *testing.T) {
	rc, err := New(4 << 20)
	require.NoError(t, err)
	defer rc.Close()

	src := []byte("payload")
	rc.Set(1, 1, src)
	rc.Wait()
	src[0] = 'X'

	got, ok := rc.Get(1, 1)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	got[0] = 'Y'
	again, _ := rc.Get(1, 1)
	assert.Equal(t, "payload", string(again))
}

func TestRecordCacheForget(t *testing.T) {
	rc, err := New(4 << 20)
	require.NoError(t, err)
	defer rc.Close()

	rc.Set(3, 9, []byte("x"))
	rc.Wait()
	rc.Forget(3, 9)

	_, ok := rc.Get(3, 9)
	assert.False(t, ok)
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestKeyOrdering(t *testing.T) {
	assert.NotEqual(t, Key(1, 2), Key(2, 1))
	assert.Len(t, Key(1, 1), 16)
}
