// Package registry implements the Stream Registry: the process-wide
// stream_id -> StreamHandle map that arbitrates concurrent create/destroy
// and hands out numeric session ids. Reader/writer discipline (many
// concurrent readers, mutually exclusive writers) is grounded on the
// teacher's own registry-style map guards in internal/domain/session (see
// the pack's ManuGH-xg2g orchestrator for the same read-heavy pattern).
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitriver/streampack/internal/ingesterr"
	"github.com/bitriver/streampack/internal/packager"
	"github.com/bitriver/streampack/internal/segment"
	"github.com/bitriver/streampack/internal/telemetry"
	"github.com/bitriver/streampack/internal/watcher"
)

// StreamHandle is everything the registry tracks for one live stream.
// Readers may inspect it freely; mutation of its fields is the owning
// Session Handler's responsibility.
type StreamHandle struct {
	StreamID  string
	SessionID uint64
	OutputDir string
	StartTime time.Time

	Packager *packager.Packager
	Watcher  *watcher.Watcher
	Index    *segment.Index
}

// Registry is the process-wide stream_id -> StreamHandle map.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*StreamHandle

	nextSessionID uint64

	collector *telemetry.Collector
}

// New constructs an empty Registry. collector may be nil.
func New(collector *telemetry.Collector) *Registry {
	return &Registry{
		streams:   make(map[string]*StreamHandle),
		collector: collector,
	}
}

// NextSessionID hands out a monotonically increasing, per-process-unique
// numeric session id. Session ids are assigned independently of stream ids
// so that two connections racing for the same stream id can still be told
// apart before one of them loses the Insert race.
func (r *Registry) NextSessionID() uint64 {
	return atomic.AddUint64(&r.nextSessionID, 1)
}

// Insert registers handle under handle.StreamID, failing with
// ErrAlreadyExists if a stream with that id is already live.
func (r *Registry) Insert(handle *StreamHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.streams[handle.StreamID]; exists {
		return ingesterr.ErrAlreadyExists
	}
	r.streams[handle.StreamID] = handle
	if r.collector != nil {
		r.collector.RegisterStream(handle.StreamID)
	}
	return nil
}

// Remove deregisters streamID, returning its handle, or ErrNotFound if
// absent.
func (r *Registry) Remove(streamID string) (*StreamHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.streams[streamID]
	if !ok {
		return nil, ingesterr.ErrNotFound
	}
	delete(r.streams, streamID)
	if r.collector != nil {
		r.collector.RemoveStream(streamID)
	}
	return handle, nil
}

// Lookup returns streamID's handle without removing it.
func (r *Registry) Lookup(streamID string) (*StreamHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.streams[streamID]
	return handle, ok
}

// Len reports the number of live streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Enumerate calls fn for every live stream under a read lock. fn must not
// call back into the Registry.
func (r *Registry) Enumerate(fn func(*StreamHandle)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, handle := range r.streams {
		fn(handle)
	}
}

// StreamIDs returns a snapshot of currently live stream ids.
func (r *Registry) StreamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	return ids
}
