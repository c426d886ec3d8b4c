package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// TestRoomIdleShutdownLeavesNoGoroutines verifies that a room which sits
// idle past its shutdown timeout (spec.md §4.4, "Idle shutdown") tears down
// its dispatch goroutine and accept loop cleanly, leaking nothing —
// grounded in the teacher's internal/v1/room/goleak_test.go use of
// go.uber.org/goleak around room lifecycle (SPEC_FULL.md §A.4).
func TestRoomIdleShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newTestStore(t, 99)
	srv, err := New("leak-room", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)
	srv.Room.shutdownTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	select {
	case <-srv.Room.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room never reported idle shutdown")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve never returned after the room went idle")
	}
}
