// Package packager implements the Packager Pipeline: supervising one
// transcoder child process per active stream, owning its standard input,
// and reporting broken-pipe failures. The write/stop lifecycle (graceful
// EOF via closing stdin, bounded grace period, forced kill only as a last
// resort) is grounded on the babelcloud-gbox FFmpegPackager reference
// implementation; argument construction and stderr line-logging follow the
// teacher's cmd/transcoder.
package packager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitriver/streampack/internal/config"
	"github.com/bitriver/streampack/internal/ingesterr"
)

// Packager owns one transcoder child process for one stream.
type Packager struct {
	streamID string
	grace    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex // serializes writes; FIFO per session per spec.md §5
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	broken  bool
	stopped bool

	exitErr chan error
}

// Start creates the stream's output directory and spawns the transcoder
// child with its stdin piped. Standard error is detached into a background
// reader that logs line-prefixed diagnostics. Fails with ErrSpawn if the
// binary cannot be located or the directory cannot be created.
func Start(ctx context.Context, cfg config.HLS, streamID, outputDir string, logger *slog.Logger) (*Packager, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ingesterr.ErrSpawn, err)
	}

	binary := cfg.TranscoderBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	args := BuildArgs(cfg, outputDir)
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	return StartCommand(ctx, binary, args, streamID, grace, logger)
}

// StartCommand is the mechanics underlying Start, exported so tests and
// alternate SpawnFuncs can exercise the write/stop lifecycle against a
// stand-in child process without depending on a real ffmpeg binary or
// BuildArgs' argv shape.
func StartCommand(ctx context.Context, binary string, args []string, streamID string, grace time.Duration, logger *slog.Logger) (*Packager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("stream_id", streamID, "component", "packager")

	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ingesterr.ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ingesterr.ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrSpawn, err)
	}

	p := &Packager{
		streamID: streamID,
		grace:    grace,
		logger:   logger,
		cmd:      cmd,
		stdin:    stdin,
		exitErr:  make(chan error, 1),
	}

	go p.logStderr(stderr)
	go func() {
		p.exitErr <- cmd.Wait()
	}()

	logger.Info("packager started", "pid", cmd.Process.Pid, "args", args)
	return p, nil
}

func (p *Packager) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		p.logger.Debug("transcoder", "line", scanner.Text())
	}
}

// Write forwards bytes to the child's stdin followed by a flush point
// (os.File writes are unbuffered, so the write itself is the flush). On any
// write error, the Packager is marked broken and ErrBrokenPipe is returned;
// callers must stop sending further data for this stream. Writing after Stop
// is a no-op.
func (p *Packager) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	if p.broken {
		return ingesterr.ErrBrokenPipe
	}
	if _, err := p.stdin.Write(data); err != nil {
		p.broken = true
		return fmt.Errorf("%w: %v", ingesterr.ErrBrokenPipe, err)
	}
	return nil
}

// Stop closes the child's stdin, signaling EOF so it can shut down on its
// own terms, and waits up to the configured grace period before escalating
// to SIGINT and, after a second grace period, SIGKILL. The parent never kills the child
// forcefully in the happy path.
func (p *Packager) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	_ = p.stdin.Close()
	p.mu.Unlock()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case err := <-p.exitErr:
		p.logger.Info("packager exited", "error", err)
		return nil
	case <-timer.C:
		p.logger.Warn("packager did not exit within grace period, escalating")
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.exitErr:
			return nil
		case <-time.After(p.grace):
		}
		p.logger.Warn("packager force killed")
		_ = p.cmd.Process.Kill()
		<-p.exitErr
	}
	return nil
}

// SpawnFunc starts the child process backing one stream's Packager. The
// default, installed by NewSupervisor, shells out to cfg.TranscoderBinary
// with BuildArgs' deterministic ffmpeg argv; tests and alternate transcoder
// backends may substitute their own.
type SpawnFunc func(ctx context.Context, streamID, outputDir string) (*Packager, error)

// Supervisor enforces "at most one Packager per stream_id" and provides the
// start/write/stop/stop_all operations spec.md §4.2 names.
type Supervisor struct {
	mu         sync.RWMutex
	packagers  map[string]*Packager
	cfg        config.HLS
	saveDirFor func(streamID string) string
	spawn      SpawnFunc
	logger     *slog.Logger
}

// NewSupervisor constructs a Supervisor rooted at cfg.SaveDir; each stream
// gets its own subdirectory named after its stream id.
func NewSupervisor(cfg config.HLS, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		packagers: make(map[string]*Packager),
		cfg:       cfg,
		saveDirFor: func(streamID string) string {
			return filepath.Join(cfg.SaveDir, streamID)
		},
		logger: logger,
	}
	s.spawn = func(ctx context.Context, streamID, outputDir string) (*Packager, error) {
		return Start(ctx, s.cfg, streamID, outputDir, s.logger)
	}
	return s
}

// NewSupervisorWithSpawn constructs a Supervisor that delegates process
// creation to spawn instead of the default ffmpeg invocation, for tests and
// for transcoder backends that don't follow BuildArgs' argv shape.
func NewSupervisorWithSpawn(spawn SpawnFunc, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		packagers: make(map[string]*Packager),
		saveDirFor: func(streamID string) string {
			return streamID
		},
		spawn:  spawn,
		logger: logger,
	}
}

// OutputDir returns the directory a stream's packager writes into.
func (s *Supervisor) OutputDir(streamID string) string {
	return s.saveDirFor(streamID)
}

// Config returns the HLS configuration this Supervisor was built with, so
// callers (the Session Handler, wiring a stream's Segment/Part Index and
// Metrics Collector) can read its segment/part duration and retention caps
// without duplicating them.
func (s *Supervisor) Config() config.HLS {
	return s.cfg
}

// StartStream spawns a new Packager for streamID, failing with
// ErrAlreadyExists if one is already registered.
func (s *Supervisor) StartStream(ctx context.Context, streamID string) (*Packager, error) {
	s.mu.Lock()
	if _, exists := s.packagers[streamID]; exists {
		s.mu.Unlock()
		return nil, ingesterr.ErrAlreadyExists
	}
	s.mu.Unlock()

	p, err := s.spawn(ctx, streamID, s.saveDirFor(streamID))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.packagers[streamID]; exists {
		s.mu.Unlock()
		_ = p.Stop()
		return nil, ingesterr.ErrAlreadyExists
	}
	s.packagers[streamID] = p
	s.mu.Unlock()
	return p, nil
}

// Write forwards bytes to streamID's packager.
func (s *Supervisor) Write(streamID string, data []byte) error {
	s.mu.RLock()
	p, ok := s.packagers[streamID]
	s.mu.RUnlock()
	if !ok {
		return ingesterr.ErrNotFound
	}
	if err := p.Write(data); err != nil {
		if errors.Is(err, ingesterr.ErrBrokenPipe) {
			s.mu.Lock()
			delete(s.packagers, streamID)
			s.mu.Unlock()
		}
		return err
	}
	return nil
}

// StopStream stops and evicts streamID's packager, if registered.
func (s *Supervisor) StopStream(streamID string) error {
	s.mu.Lock()
	p, ok := s.packagers[streamID]
	delete(s.packagers, streamID)
	s.mu.Unlock()
	if !ok {
		return ingesterr.ErrNotFound
	}
	return p.Stop()
}

// StopAll stops every registered packager concurrently, waiting for all of
// them to finish their grace/kill sequence before returning.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	packagers := make([]*Packager, 0, len(s.packagers))
	for id, p := range s.packagers {
		packagers = append(packagers, p)
		delete(s.packagers, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, p := range packagers {
		p := p
		g.Go(func() error {
			return p.Stop()
		})
	}
	_ = g.Wait()
}
