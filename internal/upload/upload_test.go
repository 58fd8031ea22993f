package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/ingesterr"
)

type fakeStore struct {
	mu          sync.Mutex
	puts        []string
	failN       int   // fail the first failN Put calls per key
	terminalErr error // if set, every Put fails with this error instead
	attempts    map[string]int
	deleted     []string
	listKeys    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: make(map[string]int)}
}

func (f *fakeStore) Put(_ context.Context, key string, _ []byte, _ string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[key]++
	f.puts = append(f.puts, key)
	if f.terminalErr != nil {
		return "", f.terminalErr
	}
	if f.attempts[key] <= f.failN {
		return "", errors.New("transient failure")
	}
	return "https://cdn.example/" + key, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) List(_ context.Context, _ string) ([]string, error) {
	return f.listKeys, nil
}

func (f *fakeStore) Enabled() bool { return true }

func (f *fakeStore) Ping(context.Context) error { return nil }

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "segment_1.m4s")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadSucceedsOnFirstAttempt(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(Config{MaxConcurrency: 2, MaxRetries: 3, RetryDelay: time.Millisecond}, store, nil)

	path := writeTempFile(t, "data")
	go w.Run(context.Background())

	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "hls_output/s1/segment_1.m4s", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, ok := w.Status("s1")
	require.True(t, ok)
	require.Equal(t, 1, status.Queued)
	require.Equal(t, 1, status.Uploaded)
	require.True(t, status.IsComplete)
	require.Equal(t, "https://cdn.example/hls_output/s1/segment_1.m4s", status.CanonicalURLs["hls_output/s1/segment_1.m4s"])
}

func TestUploadRetriesTransientFailuresThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.failN = 2
	w := NewWorker(Config{MaxConcurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, store, nil)

	path := writeTempFile(t, "data")
	go w.Run(context.Background())

	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "k", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, _ := w.Status("s1")
	require.Equal(t, 1, status.Uploaded)
	require.Equal(t, 0, status.Failed)
	require.Equal(t, 3, store.attempts["k"])
}

func TestMissingLocalFileIsTerminalNotRetried(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(Config{MaxConcurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, store, nil)

	go w.Run(context.Background())
	w.Enqueue(Task{StreamID: "s1", LocalPath: "/no/such/file", RemoteKey: "k", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, _ := w.Status("s1")
	require.Equal(t, 1, status.Failed)
	require.Equal(t, 0, status.Uploaded)
	require.Equal(t, 0, store.attempts["k"])
}

// TestTerminalUploadErrorIsNotRetried covers the store adapter's
// terminal-vs-transient classification (e.g. internal/objectstore/s3.go's
// 4xx handling): an ingesterr.UploadError{Kind: UploadTerminal} must fail
// the task on the first attempt rather than being retried.
func TestTerminalUploadErrorIsNotRetried(t *testing.T) {
	store := newFakeStore()
	store.terminalErr = ingesterr.NewUploadError(ingesterr.UploadTerminal, errors.New("bad request"))
	w := NewWorker(Config{MaxConcurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, store, nil)

	path := writeTempFile(t, "data")
	go w.Run(context.Background())
	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "k", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, _ := w.Status("s1")
	require.Equal(t, 1, status.Failed)
	require.Equal(t, 0, status.Uploaded)
	require.Equal(t, 1, store.attempts["k"])
}

func TestExhaustingRetriesMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.failN = 100
	w := NewWorker(Config{MaxConcurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, store, nil)

	path := writeTempFile(t, "data")
	go w.Run(context.Background())
	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "k", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, _ := w.Status("s1")
	require.Equal(t, 1, status.Failed)
	require.Equal(t, 3, store.attempts["k"])
	require.True(t, status.IsComplete)
}

func TestDeletePrefixToleratesPerObjectErrors(t *testing.T) {
	store := newFakeStore()
	store.listKeys = []string{"hls_output/s1/a.m4s", "hls_output/s1/b.m4s"}
	w := NewWorker(Config{}, store, nil)

	require.NoError(t, w.DeletePrefix(context.Background(), "hls_output/s1/"))
	require.ElementsMatch(t, store.listKeys, store.deleted)
}

func TestRequeueSameKeyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(Config{MaxConcurrency: 2, MaxRetries: 1, RetryDelay: time.Millisecond}, store, nil)

	path := writeTempFile(t, "data")
	go w.Run(context.Background())

	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "k", ContentType: "video/mp4"})
	w.Enqueue(Task{StreamID: "s1", LocalPath: path, RemoteKey: "k", ContentType: "video/mp4"})
	w.Close()
	<-w.Done()

	status, _ := w.Status("s1")
	require.Equal(t, 2, status.Queued)
	require.Equal(t, 2, status.Uploaded)
	require.Equal(t, 2, store.attempts["k"])
}
