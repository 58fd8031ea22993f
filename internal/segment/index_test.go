package segment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendEvictsOldestSegmentOverCap(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, 2, 10, nil)

	for i := 0; i < 3; i++ {
		name := filepath.Join("segment_"+string(rune('0'+i))+".m4s")
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
		idx.Append(Artifact{RelativePath: name, Kind: KindSegment, ProducedAt: time.Now()})
	}

	require.Equal(t, 2, idx.Len())
	_, ok := idx.Lookup("segment_0.m4s")
	require.False(t, ok, "oldest segment should have been evicted")
	require.NoFileExists(t, filepath.Join(dir, "segment_0.m4s"))
}

func TestEvictionDoesNotPropagateDeleteErrors(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, 1, 10, nil)

	idx.Append(Artifact{RelativePath: "missing_1.m4s", Kind: KindSegment})
	idx.Append(Artifact{RelativePath: "missing_2.m4s", Kind: KindSegment})

	require.Equal(t, 1, idx.Len())
}

func TestLookupFindsTrackedArtifact(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, 10, 10, nil)
	idx.Append(Artifact{RelativePath: "playlist.m3u8", Kind: KindPlaylist})

	a, ok := idx.Lookup("playlist.m3u8")
	require.True(t, ok)
	require.Equal(t, KindPlaylist, a.Kind)
}

func TestEvictUntilTrimsFIFO(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, 100, 100, nil)
	for i := 0; i < 5; i++ {
		idx.Append(Artifact{RelativePath: filepath.Join("part_" + string(rune('0'+i)) + ".m4s"), Kind: KindPart})
	}
	evicted := idx.EvictUntil(2)
	require.Len(t, evicted, 3)
	require.Equal(t, 2, idx.Len())
}

func TestClearDropsAllWithoutDeletingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	idx := New(dir, 10, 10, nil)
	idx.Append(Artifact{RelativePath: "init.mp4", Kind: KindInit})
	idx.Clear()

	require.Equal(t, 0, idx.Len())
	require.FileExists(t, path)
}
