package packager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/ingesterr"
)

func TestWriteForwardsBytesUntilStopped(t *testing.T) {
	ctx := context.Background()
	p, err := StartCommand(ctx, "sh", []string{"-c", "cat > /dev/null"}, "s1", time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, p.Write([]byte("hello")))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Write([]byte("after-stop")), "write after stop must be a no-op")
}

func TestWriteAfterBrokenPipeReturnsBrokenPipe(t *testing.T) {
	ctx := context.Background()
	// the child exits immediately, closing its stdin read end.
	p, err := StartCommand(ctx, "sh", []string{"-c", "exit 0"}, "s1", 2*time.Second, nil)
	require.NoError(t, err)

	// Give the child a moment to exit and close the pipe.
	time.Sleep(100 * time.Millisecond)

	var lastErr error
	for i := 0; i < 50; i++ {
		lastErr = p.Write([]byte("data"))
		if lastErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Error(t, lastErr)
	require.True(t, errors.Is(lastErr, ingesterr.ErrBrokenPipe))

	_ = p.Stop()
}

func TestStopEscalatesToKillAfterGrace(t *testing.T) {
	ctx := context.Background()
	// ignore SIGTERM/SIGINT so Stop must escalate to SIGKILL.
	p, err := StartCommand(ctx, "sh", []string{"-c", "trap '' INT TERM; sleep 30"}, "s1", 50*time.Millisecond, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after escalation")
	}
}

func TestSupervisorEnforcesOnePackagerPerStream(t *testing.T) {
	ctx := context.Background()
	sup := &Supervisor{
		packagers: make(map[string]*Packager),
	}
	sup.saveDirFor = func(string) string { return t.TempDir() }

	p1, err := StartCommand(ctx, "sh", []string{"-c", "cat > /dev/null"}, "s1", time.Second, nil)
	require.NoError(t, err)
	sup.packagers["s1"] = p1

	_, err = sup.StartStream(ctx, "s1")
	require.ErrorIs(t, err, ingesterr.ErrAlreadyExists)

	require.NoError(t, sup.StopStream("s1"))
	require.ErrorIs(t, sup.StopStream("s1"), ingesterr.ErrNotFound)
}
