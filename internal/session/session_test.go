package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/authgateway"
	"github.com/bitriver/streampack/internal/flv"
	"github.com/bitriver/streampack/internal/ingesterr"
	"github.com/bitriver/streampack/internal/packager"
	"github.com/bitriver/streampack/internal/registry"
	"github.com/bitriver/streampack/internal/telemetry"
)

type fakeGateway struct {
	result authgateway.Result
	err    error
}

func (f fakeGateway) Authenticate(context.Context, string) (authgateway.Result, error) {
	return f.result, f.err
}

// newTestSupervisor spawns "sh -c 'cat > /dev/null'" in place of a real
// ffmpeg, so these tests exercise the Session state machine without
// depending on a real transcoder binary or BuildArgs' argv shape.
func newTestSupervisor(t *testing.T) *packager.Supervisor {
	t.Helper()
	spawn := func(ctx context.Context, streamID, outputDir string) (*packager.Packager, error) {
		return packager.StartCommand(ctx, "sh", []string{"-c", "cat > /dev/null"}, streamID, time.Second, nil)
	}
	return packager.NewSupervisorWithSpawn(spawn, nil)
}

func TestOnPublishRejectsEmptyKey(t *testing.T) {
	h := NewHandler(fakeGateway{}, newTestSupervisor(t), registry.New(nil), nil, nil, nil)
	_, err := h.OnPublish(context.Background(), "live", "")
	require.ErrorIs(t, err, ingesterr.ErrInvalidParam)
}

func TestOnPublishPropagatesAuthError(t *testing.T) {
	authErr := ingesterr.NewAuthError(ingesterr.AuthDenied, errors.New("bad key"))
	h := NewHandler(fakeGateway{err: authErr}, newTestSupervisor(t), registry.New(nil), nil, nil, nil)
	_, err := h.OnPublish(context.Background(), "live", "bad-key")
	var ae *ingesterr.AuthError
	require.ErrorAs(t, err, &ae)
}

func TestSessionLifecycleRegistersAndDeregisters(t *testing.T) {
	reg := registry.New(telemetry.NewCollector(time.Second))
	gw := fakeGateway{result: authgateway.Result{Nickname: "alice", CreatedAt: "2024-01-01T00:00:00Z"}}
	h := NewHandler(gw, newTestSupervisor(t), reg, nil, nil, nil)

	sess, err := h.OnPublish(context.Background(), "live", "abc")
	require.NoError(t, err)
	require.Equal(t, "alice/2024-01-01T00:00:00Z", sess.StreamID())
	require.Equal(t, StatePublishing, sess.State())

	_, ok := reg.Lookup(sess.StreamID())
	require.True(t, ok)

	require.NoError(t, sess.OnUnpublish())
	require.Equal(t, StateIdle, sess.State())

	_, ok = reg.Lookup(sess.StreamID())
	require.False(t, ok)

	// idempotent
	require.NoError(t, sess.OnUnpublish())
}

func TestOnDataIgnoredWhenNotPublishing(t *testing.T) {
	reg := registry.New(nil)
	gw := fakeGateway{result: authgateway.Result{Nickname: "alice", CreatedAt: "2024-01-01T00:00:00Z"}}
	h := NewHandler(gw, newTestSupervisor(t), reg, nil, nil, nil)

	sess, err := h.OnPublish(context.Background(), "live", "abc")
	require.NoError(t, err)
	require.NoError(t, sess.OnUnpublish())

	// Session is now Idle; OnData must be a no-op, not a panic or error.
	require.NoError(t, sess.OnData(flv.TagVideo, 0, []byte{1, 2, 3}))
}
