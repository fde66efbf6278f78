// ABOUTME: Tests for the bbolt history store
// ABOUTME: Covers persistence across reopen and recovery from corrupt values

package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, maxMessages int) Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "history.bolt"), maxMessages, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBoltStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.bolt")
	ctx := context.Background()

	s, err := NewBoltStore(path, 10, nil)
	require.NoError(t, err)
	u, a := pair(3)
	require.NoError(t, s.Append(ctx, "t1", u, a))
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(path, 10, nil)
	require.NoError(t, err)
	defer reopened.Close()

	h, err := reopened.Get(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "q3", h[0].Text())
}

func TestBoltStore_CorruptValueReplaced(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "history.bolt"), 10, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).Put([]byte("t1"), []byte("{not json"))
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "t1")
	assert.Error(t, err)

	u, a := pair(1)
	require.NoError(t, s.Append(ctx, "t1", u, a))
	h, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, h, 2)
}
