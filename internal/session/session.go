// Package session implements the Session Handler: the per-connection RTMP
// state machine that authenticates a publish attempt, starts the stream's
// Packager and File Watcher, re-frames incoming tags through the FLV
// Framer, and tears everything down on unpublish or fatal error. The
// Idle/Publishing/Draining states and their transitions follow the
// teacher's http_controller.go request-lifecycle style (validate, delegate
// to a collaborator, translate its error into the right HTTP/session-level
// outcome).
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bitriver/streampack/internal/authgateway"
	"github.com/bitriver/streampack/internal/flv"
	"github.com/bitriver/streampack/internal/ingesterr"
	"github.com/bitriver/streampack/internal/packager"
	"github.com/bitriver/streampack/internal/registry"
	"github.com/bitriver/streampack/internal/segment"
	"github.com/bitriver/streampack/internal/telemetry"
	"github.com/bitriver/streampack/internal/upload"
	"github.com/bitriver/streampack/internal/watcher"
)

// State is one Session's place in the Idle/Publishing/Draining machine.
type State int

const (
	StateIdle State = iota
	StatePublishing
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePublishing:
		return "publishing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Handler wires together the collaborators every Session needs: the
// Authentication Gateway, the Packager Supervisor, the Stream Registry, the
// Upload Worker, and the Metrics Collector.
type Handler struct {
	auth       authgateway.Gateway
	supervisor *packager.Supervisor
	registry   *registry.Registry
	uploader   *upload.Worker
	collector  *telemetry.Collector
	logger     *slog.Logger
}

// NewHandler constructs a Handler. uploader and collector may be nil.
func NewHandler(
	auth authgateway.Gateway,
	supervisor *packager.Supervisor,
	reg *registry.Registry,
	uploader *upload.Worker,
	collector *telemetry.Collector,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:       auth,
		supervisor: supervisor,
		registry:   reg,
		uploader:   uploader,
		collector:  collector,
		logger:     logger.With("component", "session"),
	}
}

// Session is one publisher connection's state.
type Session struct {
	mu        sync.Mutex
	state     State
	streamID  string
	sessionID uint64
	handler   *Handler
	watchCtx  context.Context
	cancel    context.CancelFunc
}

// State reports the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamID returns the canonical stream id assigned at publish time.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// OnPublish authenticates key against the Auth Gateway and, on success,
// starts the stream's Packager and File Watcher, writes the FLV header, and
// registers the Stream. An empty key is rejected with ErrInvalidParam
// without contacting the gateway. Auth failure is a terminal rejection of
// this publish attempt; the handler never retries it.
func (h *Handler) OnPublish(ctx context.Context, app, key string) (*Session, error) {
	if key == "" {
		return nil, ingesterr.ErrInvalidParam
	}

	result, err := h.auth.Authenticate(ctx, key)
	if err != nil {
		return nil, err
	}
	streamID := result.StreamID()
	sessionID := h.registry.NextSessionID()
	outputDir := h.supervisor.OutputDir(streamID)

	pkg, err := h.supervisor.StartStream(ctx, streamID)
	if err != nil {
		return nil, err
	}

	if err := pkg.Write(flv.Header()); err != nil {
		_ = h.supervisor.StopStream(streamID)
		return nil, &ingesterr.SessionError{StreamID: streamID, Err: err}
	}

	if h.collector != nil {
		// Registered before the watcher starts so artifacts it observes
		// immediately after spawn always find a live stream to account
		// against, rather than racing Insert below.
		h.collector.RegisterStream(streamID)
	}

	hlsCfg := h.supervisor.Config()
	idx := segment.New(outputDir, hlsCfg.MaxSegments, hlsCfg.MaxParts, h.logger)

	watchCtx, cancel := context.WithCancel(context.Background())
	var w *watcher.Watcher
	if h.uploader != nil {
		w, err = watcher.Start(watchCtx, streamID, outputDir, h.uploader.Enqueue, h.logger,
			watcher.WithArtifactAccounting(idx, h.collector, hlsCfg.SegmentDuration, hlsCfg.PartDuration))
		if err != nil {
			// WatchInitError is logged and tolerated: the stream continues
			// publishing locally, just without mirroring.
			h.logger.Warn("watcher init failed, artifacts will not be mirrored",
				"stream_id", streamID, "error", err)
		}
	}

	handle := &registry.StreamHandle{
		StreamID:  streamID,
		SessionID: sessionID,
		OutputDir: outputDir,
		StartTime: time.Now(),
		Packager:  pkg,
		Watcher:   w,
		Index:     idx,
	}
	if err := h.registry.Insert(handle); err != nil {
		cancel()
		_ = h.supervisor.StopStream(streamID)
		if h.collector != nil {
			h.collector.RemoveStream(streamID)
		}
		return nil, err
	}

	if h.collector != nil {
		h.collector.RecordConnection()
	}

	h.logger.Info("publish accepted", "stream_id", streamID, "app", app, "session_id", sessionID)

	return &Session{
		state:     StatePublishing,
		streamID:  streamID,
		sessionID: sessionID,
		handler:   h,
		watchCtx:  watchCtx,
		cancel:    cancel,
	}, nil
}

// OnData frames one FLV tag and forwards it to the stream's Packager. On
// BrokenPipe, the session silently stops forwarding for the remainder of
// the connection (the caller must still eventually call OnUnpublish).
func (s *Session) OnData(kind byte, timestampMs uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePublishing {
		return nil
	}

	tag := flv.Tag(kind, timestampMs, payload)
	if err := s.handler.supervisor.Write(s.streamID, tag); err != nil {
		if errors.Is(err, ingesterr.ErrBrokenPipe) {
			s.state = StateDraining
			return nil
		}
		s.state = StateDraining
		return &ingesterr.SessionError{StreamID: s.streamID, Err: err}
	}
	return nil
}

// OnUnpublish stops the Packager and File Watcher and deregisters the
// Stream, returning the handler to Idle. Calling it more than once is a
// no-op.
func (s *Session) OnUnpublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return nil
	}

	handle, err := s.handler.registry.Remove(s.streamID)
	if err == nil && handle.Watcher != nil {
		handle.Watcher.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if h := s.handler.supervisor; h != nil {
		_ = h.StopStream(s.streamID)
	}
	if s.handler.uploader != nil {
		s.handler.uploader.RemoveStream(s.streamID)
	}

	s.state = StateIdle
	s.handler.logger.Info("unpublished", "stream_id", s.streamID)
	return nil
}
