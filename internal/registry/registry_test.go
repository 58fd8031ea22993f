package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/ingesterr"
)

func TestInsertRejectsDuplicateStreamID(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Insert(&StreamHandle{StreamID: "alice/2024"}))
	err := r.Insert(&StreamHandle{StreamID: "alice/2024"})
	require.ErrorIs(t, err, ingesterr.ErrAlreadyExists)
}

func TestRemoveReturnsHandleOrNotFound(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Insert(&StreamHandle{StreamID: "alice/2024"}))

	handle, err := r.Remove("alice/2024")
	require.NoError(t, err)
	require.Equal(t, "alice/2024", handle.StreamID)

	_, err = r.Remove("alice/2024")
	require.ErrorIs(t, err, ingesterr.ErrNotFound)
}

func TestNextSessionIDIsMonotonicAndUniqueUnderConcurrency(t *testing.T) {
	r := New(nil)
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- r.NextSessionID()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint64]bool)
	for id := range seen {
		require.False(t, ids[id], "duplicate session id %d", id)
		ids[id] = true
	}
	require.Len(t, ids, n)
}

func TestEnumerateDoesNotBlockConcurrentReaders(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Insert(&StreamHandle{StreamID: "a"}))
	require.NoError(t, r.Insert(&StreamHandle{StreamID: "b"}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			r.Enumerate(func(*StreamHandle) { n++ })
			require.Equal(t, 2, n)
		}()
	}
	wg.Wait()
}
