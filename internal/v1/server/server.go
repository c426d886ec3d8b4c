package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"

	"roomcluster/internal/v1/durability"
	"roomcluster/internal/v1/framing"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/ratelimit"
)

// Server listens for TCP connections and routes each one to its Room. In
// this module one Server always serves exactly one room; the cluster
// spawns one Server per room it stands up (spec.md §4.4/§4.5).
type Server struct {
	ID       string
	Listener net.Listener
	Room     *Room
	limit    *ratelimit.CommandLimiter
	log      *zap.Logger

	// ClusterAddr is where this room sends its shutdown_room message once
	// it decides it is idle, "host:port". Empty disables the notification
	// (used by tests and by a room run outside a cluster).
	ClusterAddr string
}

// New binds a TCP listener on addr ("" host, 0 port means "pick one"), wires
// it to a fresh Room built from store, and returns the Server ready to Serve.
func New(id, addr string, store *durability.Store, limit *ratelimit.CommandLimiter, udpEnabled bool, clusterAddr string, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := &Server{ID: id, Listener: ln, limit: limit, log: log, ClusterAddr: clusterAddr}
	s.Room = NewRoom(id, store, limit, udpEnabled, s.onIdle, log)
	return s, nil
}

// Port returns the port this server actually bound to, useful when addr was
// "host:0" and the OS picked a port (spec.md §4.5, "lazy room spawning").
func (s *Server) Port() int {
	return s.Listener.Addr().(*net.TCPAddr).Port
}

// Serve runs the dispatch goroutine and the accept loop until ctx is
// cancelled or the room shuts itself down (idle timeout).
func (s *Server) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.Room.Run(ctx)

	connID := 0
	go func() {
		<-s.Room.Done()
		cancel()
		s.Listener.Close()
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logging.Warn(ctx, "accept failed", zap.Error(err), zap.String("room_id", s.ID))
				return
			}
		}
		connID++
		id := fmt.Sprintf("%s-%d", s.ID, connID)
		go serveConnection(ctx, id, conn, s.Room, s.limit)
	}
}

// onIdle is invoked by the room's dispatch goroutine once it has sat idle
// past the shutdown timeout. It notifies the cluster, matching the
// source's _send_shutdown_message (spec.md §4.4).
func (s *Server) onIdle(roomID string) {
	if s.ClusterAddr == "" {
		return
	}
	ctx := context.Background()
	conn, err := net.Dial("tcp", s.ClusterAddr)
	if err != nil {
		logging.Error(ctx, "failed to connect to cluster for shutdown", zap.Error(err), zap.String("room_id", roomID))
		return
	}
	defer conn.Close()

	payload := map[string]string{"method": "shutdown_room", "client": roomID}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(ctx, "failed to marshal shutdown message", zap.Error(err))
		return
	}
	if err := framing.WriteMessage(conn, data); err != nil {
		logging.Error(ctx, "failed to send shutdown message", zap.Error(err), zap.String("room_id", roomID))
	}
}
