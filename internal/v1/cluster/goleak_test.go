package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// TestShutdownRoomReapLeavesNoGoroutines verifies that reaping a room
// (spec.md §4.5, "Reap contract") leaves nothing dangling once the room's
// completion signal fires and the cluster's own accept loop is stopped —
// grounded in the teacher's internal/v1/room/goleak_test.go use of
// go.uber.org/goleak around lifecycle teardown (SPEC_FULL.md §A.4).
func TestShutdownRoomReapLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := make(chan struct{})
	c := New("127.0.0.1", fakeFactory("127.0.0.1:9999", done), zap.NewNop())

	ln, err := c.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Serve(ctx, ln)

	_, err = c.GetRoomServer(context.Background(), "room-leak")
	require.NoError(t, err)

	close(done)
	_, err = c.ShutdownRoom(context.Background(), "room-leak")
	require.NoError(t, err)

	cancel()
	ln.Close()
	time.Sleep(50 * time.Millisecond)
}
