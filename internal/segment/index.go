// Package segment implements the Segment/Part Index: an in-memory, ordered
// record of the artifacts one stream's packager has produced, bounding disk
// usage via FIFO eviction. The index does not update the Metrics Collector;
// the File Watcher feeds each observed artifact to both separately.
package segment

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind classifies an Artifact.
type Kind int

const (
	KindInit Kind = iota
	KindSegment
	KindPart
	KindPlaylist
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindSegment:
		return "segment"
	case KindPart:
		return "part"
	case KindPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// Artifact is one file the packager has produced for a stream.
type Artifact struct {
	RelativePath string
	Kind         Kind
	Size         int64
	ProducedAt   time.Time
}

// Index tracks the artifacts for one stream's output directory. Segment and
// part retention are bounded independently by MaxSegments and MaxParts;
// Append never evicts init/playlist artifacts, since each stream only ever
// produces one of each that matters. EvictUntil drops the oldest artifacts
// of any kind, init and playlist included.
type Index struct {
	mu          sync.RWMutex
	outputDir   string
	maxSegments int
	maxParts    int
	logger      *slog.Logger
	artifacts   []Artifact
}

// New constructs an Index rooted at outputDir, the directory artifact
// relative paths are resolved against when a file is evicted.
func New(outputDir string, maxSegments, maxParts int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		outputDir:   outputDir,
		maxSegments: maxSegments,
		maxParts:    maxParts,
		logger:      logger,
	}
}

// Append records a new artifact, then evicts the oldest segment(s) and/or
// part(s) if doing so put either kind's count over its configured cap.
func (idx *Index) Append(artifact Artifact) {
	idx.mu.Lock()
	idx.artifacts = append(idx.artifacts, artifact)
	idx.evictKindLocked(KindSegment, idx.maxSegments)
	idx.evictKindLocked(KindPart, idx.maxParts)
	idx.mu.Unlock()
}

// EvictUntil trims the index to at most maxLen entries, dropping the oldest
// first and best-effort deleting their backing files. It returns the
// artifacts that were evicted.
func (idx *Index) EvictUntil(maxLen int) []Artifact {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var evicted []Artifact
	for len(idx.artifacts) > maxLen {
		evicted = append(evicted, idx.popOldestLocked())
	}
	return evicted
}

func (idx *Index) evictKindLocked(kind Kind, max int) {
	if max <= 0 {
		return
	}
	for idx.countKindLocked(kind) > max {
		oldest, ok := idx.oldestIndexOfKindLocked(kind)
		if !ok {
			return
		}
		idx.removeAtLocked(oldest)
	}
}

func (idx *Index) countKindLocked(kind Kind) int {
	n := 0
	for _, a := range idx.artifacts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func (idx *Index) oldestIndexOfKindLocked(kind Kind) (int, bool) {
	for i, a := range idx.artifacts {
		if a.Kind == kind {
			return i, true
		}
	}
	return 0, false
}

func (idx *Index) popOldestLocked() Artifact {
	a := idx.artifacts[0]
	idx.removeAtLocked(0)
	return a
}

func (idx *Index) removeAtLocked(i int) {
	removed := idx.artifacts[i]
	idx.artifacts = append(idx.artifacts[:i], idx.artifacts[i+1:]...)
	idx.deleteFileBestEffort(removed)
}

func (idx *Index) deleteFileBestEffort(artifact Artifact) {
	path := filepath.Join(idx.outputDir, artifact.RelativePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		idx.logger.Warn("evicted artifact delete failed", "path", path, "error", err)
	}
}

// Lookup returns the artifact at relativePath, if still tracked.
func (idx *Index) Lookup(relativePath string) (Artifact, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, a := range idx.artifacts {
		if a.RelativePath == relativePath {
			return a, true
		}
	}
	return Artifact{}, false
}

// Len returns the number of artifacts currently tracked.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.artifacts)
}

// Clear drops every tracked artifact without deleting backing files; used
// when a stream ends and its output directory is handled separately.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.artifacts = nil
}
