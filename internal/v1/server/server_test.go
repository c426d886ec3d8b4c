package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomcluster/internal/v1/durability"
	"roomcluster/internal/v1/engine"
	"roomcluster/internal/v1/framing"
)

func newTestStore(t *testing.T, seed int64) *durability.Store {
	t.Helper()
	dir := t.TempDir()
	eng := engine.New(engine.DefaultConfigSeeded(seed))
	store, err := durability.Open(eng, dir+"/game.log", dir+"/game.ckpt", durability.DefaultCheckpointThreshold)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sendAndRead(t *testing.T, conn net.Conn, req map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, framing.WriteMessage(conn, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := framing.ReadMessage(bufio.NewReader(conn))
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(resp, &parsed))
	return parsed
}

func TestServerAddClientAndMove(t *testing.T) {
	store := newTestStore(t, 1)
	srv, err := New("room-1", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := sendAndRead(t, conn, map[string]any{"method": "add_client", "client": "alice"})
	assert.Equal(t, "alice", resp["client_id"])
	assert.Equal(t, "4:4", resp["pos"])

	resp = sendAndRead(t, conn, map[string]any{"method": "right", "client": "alice"})
	assert.Equal(t, "move right", resp["success"])
}

func TestServerGetRoomReflectsAliveClientsOnly(t *testing.T) {
	store := newTestStore(t, 2)
	// bob is known to the engine but never connects, so get_room must omit him.
	store.Engine.AddClient("bob")
	srv, err := New("room-2", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	sendAndRead(t, conn, map[string]any{"method": "add_client", "client": "alice"})
	resp := sendAndRead(t, conn, map[string]any{"method": "get_room", "client": "alice"})

	room, ok := resp["room"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, room, "alice")
	assert.Contains(t, room, "chest")
	assert.NotContains(t, room, "bob")
}

func TestServerUnknownMethodReturnsError(t *testing.T) {
	store := newTestStore(t, 3)
	srv, err := New("room-3", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := sendAndRead(t, conn, map[string]any{"method": "teleport", "client": "alice"})
	assert.Contains(t, resp, "error")
}

func TestServerMissingFieldsDistinctFromMalformedJSON(t *testing.T) {
	store := newTestStore(t, 5)
	srv, err := New("room-5", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, framing.WriteMessage(conn, []byte("not json")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := framing.ReadMessage(bufio.NewReader(conn))
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(resp, &parsed))
	assert.Equal(t, "must be formatted as json", parsed["error"])

	resp = sendAndRead(t, conn, map[string]any{"method": "add_client"})
	assert.Equal(t, "malformed incoming command", resp["error"])
}

func TestRoomBroadcastsOnlyOnMutatingCommand(t *testing.T) {
	store := newTestStore(t, 6)
	srv, err := New("room-6", "127.0.0.1:0", store, nil, true, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer udpConn.Close()
	broadcastAddr := udpConn.LocalAddr().String()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	sendAndRead(t, conn, map[string]any{"method": "get_room", "client": "alice", "broadcast_addr": broadcastAddr})

	udpConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1024)
	_, _, err = udpConn.ReadFromUDP(buf)
	assert.Error(t, err, "a non-mutating round should not emit a UDP broadcast")

	sendAndRead(t, conn, map[string]any{"method": "add_client", "client": "alice"})

	udpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := udpConn.ReadFromUDP(buf)
	require.NoError(t, err, "a mutating round should emit a UDP broadcast")

	var parsed map[string]any
	end := bytes.Index(buf[:n], []byte(framing.Primary))
	require.NotEqual(t, -1, end)
	require.NoError(t, json.Unmarshal(buf[:end], &parsed))
	assert.Equal(t, float64(1), parsed["frame"])
}

func TestServerMalformedJSONReturnsError(t *testing.T) {
	store := newTestStore(t, 4)
	srv, err := New("room-4", "127.0.0.1:0", store, nil, false, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, framing.WriteMessage(conn, []byte("not json")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := framing.ReadMessage(bufio.NewReader(conn))
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(resp, &parsed))
	assert.Contains(t, parsed, "error")
}
