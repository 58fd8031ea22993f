// Package upload implements the Upload Worker: a single long-lived consumer
// of a multi-producer queue that performs bounded-concurrency,
// bounded-retry uploads to an object store and maintains per-stream upload
// status. Concurrency is bounded with golang.org/x/sync/semaphore; the retry
// loop's linear-backoff, context-aware shape is grounded on the teacher's
// internal/ingest/adapters.go doWithRetry.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bitriver/streampack/internal/ingesterr"
	"github.com/bitriver/streampack/internal/objectstore"
)

const (
	// PriorityPlaylist sorts before PriorityMedia within a single flush
	// batch, per the File Watcher's ordering guarantee.
	PriorityPlaylist = 0
	PriorityMedia    = 1
)

// Task describes one artifact to mirror to the object store. TraceID is an
// opaque per-task correlation id (not part of the remote key, which stays
// deterministic per spec.md §3) used only to tie a task's attempt log lines
// together across retries.
type Task struct {
	StreamID    string
	LocalPath   string
	RemoteKey   string
	ContentType string
	Priority    int
	Size        int64
	TraceID     string
}

// Status is one stream's running upload totals. Queued, Uploaded, and
// Failed are monotonic non-decreasing counters; IsComplete holds once
// Uploaded+Failed reaches Queued.
type Status struct {
	StreamID      string
	Queued        int
	Uploaded      int
	Failed        int
	IsComplete    bool
	CanonicalURLs map[string]string
}

// Config tunes the Worker's concurrency and retry policy.
type Config struct {
	MaxConcurrency int
	MaxRetries     int
	RetryDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// Worker drains a queue of Tasks with bounded concurrency, retrying
// transient failures with linear backoff, and tracks per-stream Status.
type Worker struct {
	cfg   Config
	store objectstore.Client
	log   *slog.Logger

	sem *semaphore.Weighted

	queue chan Task
	wg    sync.WaitGroup
	done  chan struct{}

	mu     sync.RWMutex
	status map[string]*Status
}

// NewWorker constructs a Worker backed by store. Call Run in a goroutine to
// start draining; send Tasks via Enqueue.
func NewWorker(cfg Config, store objectstore.Client, logger *slog.Logger) *Worker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		store:  store,
		log:    logger.With("component", "upload"),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		queue:  make(chan Task, 256),
		done:   make(chan struct{}),
		status: make(map[string]*Status),
	}
}

// Enqueue submits a task. The queue is buffered to 256 tasks and is not
// unbounded: Enqueue blocks while the buffer is full, until Run takes a task
// from it. Re-enqueueing the same remote key is permitted and
// idempotent: each attempt simply re-uploads and the canonical URL is
// overwritten on success.
func (w *Worker) Enqueue(t Task) {
	if t.TraceID == "" {
		t.TraceID = uuid.NewString()
	}

	w.mu.Lock()
	s, ok := w.status[t.StreamID]
	if !ok {
		s = &Status{StreamID: t.StreamID, CanonicalURLs: make(map[string]string)}
		w.status[t.StreamID] = s
	}
	s.Queued++
	s.IsComplete = false
	w.mu.Unlock()

	w.queue <- t
}

// Status returns a snapshot of one stream's upload totals.
func (w *Worker) Status(streamID string) (Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.status[streamID]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// RemoveStream drops streamID's status record, normally called on stream
// teardown after in-flight uploads for it have drained.
func (w *Worker) RemoveStream(streamID string) {
	w.mu.Lock()
	delete(w.status, streamID)
	w.mu.Unlock()
}

// Run drains the queue until it is closed (via Close), processing up to
// cfg.MaxConcurrency uploads concurrently and waiting for all in-flight
// uploads to finish before returning. Done is closed once Run returns, so
// callers that start Run in a goroutine can wait on it without racing
// Run's internal WaitGroup.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for task := range w.queue {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// context canceled; stop accepting new work.
			w.recordResult(task.StreamID, task.RemoteKey, "", false)
			continue
		}
		w.wg.Add(1)
		go func(t Task) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.process(ctx, t)
		}(task)
	}
	w.wg.Wait()
}

// Done reports when Run has fully drained the queue and every in-flight
// upload has completed.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Close signals Run to stop accepting new tasks once the queue drains.
func (w *Worker) Close() {
	close(w.queue)
}

func (w *Worker) process(ctx context.Context, t Task) {
	log := w.log.With("trace_id", t.TraceID, "key", t.RemoteKey)

	data, err := os.ReadFile(t.LocalPath)
	if err != nil {
		log.Warn("upload skipped: local file missing", "error", err)
		w.recordResult(t.StreamID, t.RemoteKey, "", false)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		url, err := w.attempt(ctx, t, data)
		if err == nil {
			w.recordResult(t.StreamID, t.RemoteKey, url, true)
			return
		}
		lastErr = err
		if errors.Is(lastErr, errTerminal) {
			break
		}
		if attempt < w.cfg.MaxRetries {
			log.Warn("upload attempt failed, retrying", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				w.recordResult(t.StreamID, t.RemoteKey, "", false)
				return
			case <-time.After(w.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
	}

	log.Error("upload failed permanently", "error", lastErr)
	w.recordResult(t.StreamID, t.RemoteKey, "", false)
}

var errTerminal = errors.New("terminal upload failure")

func (w *Worker) attempt(ctx context.Context, t Task, data []byte) (string, error) {
	headers := map[string]string{
		"Cache-Control":    "no-cache, no-store, must-revalidate",
		"upload-timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	url, err := w.store.Put(ctx, t.RemoteKey, data, t.ContentType, headers)
	if err != nil {
		var uploadErr *ingesterr.UploadError
		if errors.As(err, &uploadErr) && uploadErr.Kind == ingesterr.UploadTerminal {
			return "", fmt.Errorf("%w: %v", errTerminal, err)
		}
		return "", err
	}
	return url, nil
}

func (w *Worker) recordResult(streamID, key, canonicalURL string, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.status[streamID]
	if !ok {
		return
	}
	if success {
		s.Uploaded++
		if s.CanonicalURLs == nil {
			s.CanonicalURLs = make(map[string]string)
		}
		s.CanonicalURLs[key] = canonicalURL
	} else {
		s.Failed++
	}
	s.IsComplete = s.Uploaded+s.Failed >= s.Queued
}

// Delete removes a single object.
func (w *Worker) Delete(ctx context.Context, key string) error {
	return w.store.Delete(ctx, key)
}

// DeletePrefix lists and deletes every object under prefix, tolerating
// per-object errors: they are logged, not surfaced.
func (w *Worker) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := w.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := w.store.Delete(ctx, key); err != nil {
			w.log.Warn("delete_prefix: failed to delete object", "key", key, "error", err)
		}
	}
	return nil
}
