// Package server runs a single room: it owns the engine/durability store,
// serializes every command through one dispatch goroutine, and broadcasts
// UDP room-state snapshots to connected clients (spec.md §4.4).
package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"roomcluster/internal/v1/durability"
	"roomcluster/internal/v1/engine"
	"roomcluster/internal/v1/framing"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/metrics"
	"roomcluster/internal/v1/ratelimit"
	"roomcluster/internal/v1/wire"
)

var tracer = otel.Tracer("roomcluster/server")

// DefaultShutdownTimeout matches the source's shutdown_timeout of 5 seconds:
// how long a room waits with zero connections before telling the cluster it
// can be reaped (spec.md §4.4, "Idle shutdown").
const DefaultShutdownTimeout = 5 * time.Second

// job is one parsed command waiting to run on the room's single dispatch
// goroutine, plus the channel its result is delivered back on.
type job struct {
	req    wire.Request
	client string
	connID string
	respCh chan wire.Response
}

// disconnect tells the dispatch goroutine a connection went away, so it can
// drop the connection's broadcast-address entry and decide whether the room
// just went idle.
type disconnect struct {
	connID string
}

// Room owns one game engine and every connection currently attached to it.
// All mutation happens on the dispatch goroutine (Run); everything else —
// accept loop, per-connection readers — only ever talks to Room through the
// jobs/disconnects channels, preserving the engine's non-reentrant contract
// (spec.md §4.2) without a mutex.
type Room struct {
	ID    string
	store *durability.Store
	limit *ratelimit.CommandLimiter
	log   *zap.Logger

	udpEnabled      bool
	shutdownTimeout time.Duration
	onIdle          func(roomID string)

	jobs        chan job
	disconnects chan disconnect
	done        chan struct{}

	mu sync.Mutex
	// connections maps client id -> "host:port" to UDP-broadcast room state
	// to, populated the first time a request from that client carries a
	// broadcast_addr (spec.md §4.4).
	connections map[string]string
	// socketIDMap maps a connection id to the client id it has bound to.
	// Binding happens on the first successfully parsed request carrying a
	// client field, not only add_client (source behavior, preserved here).
	socketIDMap map[string]string
	frames      int
}

// NewRoom constructs a room around an already-opened durability store.
func NewRoom(id string, store *durability.Store, limit *ratelimit.CommandLimiter, udpEnabled bool, onIdle func(string), log *zap.Logger) *Room {
	return &Room{
		ID:              id,
		store:           store,
		limit:           limit,
		log:             log,
		udpEnabled:      udpEnabled,
		shutdownTimeout: DefaultShutdownTimeout,
		onIdle:          onIdle,
		jobs:            make(chan job, 64),
		disconnects:     make(chan disconnect, 64),
		done:            make(chan struct{}),
		connections:     make(map[string]string),
		socketIDMap:     make(map[string]string),
	}
}

// Submit enqueues a parsed request and blocks until the dispatch goroutine
// has produced a response. It is safe to call concurrently from any number
// of connection goroutines.
func (r *Room) Submit(req wire.Request, client, connID string) wire.Response {
	j := job{req: req, client: client, connID: connID, respCh: make(chan wire.Response, 1)}
	select {
	case r.jobs <- j:
	case <-r.done:
		return wire.ErrorResponse("room is shutting down")
	}
	select {
	case resp := <-j.respCh:
		return resp
	case <-r.done:
		return wire.ErrorResponse("room is shutting down")
	}
}

// Disconnect tells the room a connection closed.
func (r *Room) Disconnect(connID string) {
	select {
	case r.disconnects <- disconnect{connID: connID}:
	case <-r.done:
	}
}

// Done reports whether the dispatch goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Run is the single dispatch goroutine: every job and disconnect notice is
// handled here, one at a time, which is what makes the engine safe to call
// without its own locking. It returns once the room decides to shut down,
// either because it sat idle past shutdownTimeout or ctx was cancelled.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.shutdownTimeout)
	defer timer.Stop()
	idle := len(r.socketIDMap) == 0

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			mutated := r.handleJob(ctx, j)
			mutated = r.drainPendingJobs(ctx) || mutated
			r.store.Engine.ClearEmptyMarkers()
			if r.udpEnabled && mutated {
				r.broadcastRoomState(ctx)
			}
			idle = len(r.socketIDMap) == 0
			resetTimer(timer, r.shutdownTimeout)
		case d := <-r.disconnects:
			r.handleDisconnect(d)
			idle = len(r.socketIDMap) == 0
			resetTimer(timer, r.shutdownTimeout)
		case <-timer.C:
			if idle {
				logging.Info(ctx, "room idle past shutdown timeout", zap.String("room_id", r.ID))
				if r.onIdle != nil {
					r.onIdle(r.ID)
				}
				return
			}
			resetTimer(timer, r.shutdownTimeout)
		}
	}
}

// drainPendingJobs processes any further jobs already queued without
// waiting, so a burst of requests is handled as one "tick" before the
// markers clear and a broadcast fires — mirroring the source processing
// every ready socket before calling clear_empty_markers once per poll loop
// iteration. It reports whether any of the drained jobs ran a mutating
// command, so the caller can decide whether this tick warrants a broadcast.
func (r *Room) drainPendingJobs(ctx context.Context) bool {
	mutated := false
	for {
		select {
		case j := <-r.jobs:
			mutated = r.handleJob(ctx, j) || mutated
		default:
			return mutated
		}
	}
}

// handleJob dispatches one request and reports whether it ran a mutating
// command — the only case spec.md §4.4 wants to trigger a UDP state
// broadcast and frame increment.
func (r *Room) handleJob(ctx context.Context, j job) bool {
	ctx, span := tracer.Start(ctx, "room.dispatch")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues(j.req.Method).Observe(time.Since(start).Seconds())
	}()

	if j.req.BroadcastAddr != "" {
		r.mu.Lock()
		r.connections[j.client] = j.req.BroadcastAddr
		r.mu.Unlock()
	}

	var resp wire.Response
	var known bool
	var err error
	if j.req.Method == "get_room" {
		resp = wire.Response(r.store.Engine.GetRoom(r.aliveClients()))
		known = true
	} else {
		var engResp engine.Response
		engResp, known, err = r.store.Dispatch(j.req, j.client)
		if known {
			resp = wire.Response(engResp)
		}
	}

	status := "ok"
	if !known {
		resp = wire.MethodUnknown(j.req.Method, "Game")
		status = "unknown_method"
	} else if err != nil {
		logging.Error(ctx, "failed to durably append command", zap.Error(err), zap.String("room_id", r.ID))
		resp = wire.ErrorResponse("failed to persist command")
		status = "error"
	} else if _, isErr := resp["error"]; isErr {
		status = "error"
	}
	metrics.CommandsTotal.WithLabelValues(j.req.Method, status).Inc()

	r.mu.Lock()
	r.socketIDMap[j.connID] = j.client
	r.mu.Unlock()

	j.respCh <- resp
	return known && err == nil && engine.MutatingMethods[j.req.Method]
}

func (r *Room) handleDisconnect(d disconnect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clientID, ok := r.socketIDMap[d.connID]
	if !ok {
		return
	}
	delete(r.socketIDMap, d.connID)
	delete(r.connections, clientID)
}

func (r *Room) aliveClients() map[string]string {
	r.mu.Lock()
	connIDs := make([]string, 0, len(r.socketIDMap))
	for _, clientID := range r.socketIDMap {
		connIDs = append(connIDs, clientID)
	}
	r.mu.Unlock()

	alive := make(map[string]string, len(connIDs))
	clients := r.store.Engine.Clients()
	for _, id := range connIDs {
		if pos, ok := clients[id]; ok {
			alive[id] = pos
		}
	}
	return alive
}

// broadcastRoomState sends the merged room/clients snapshot to every
// connection that has registered a broadcast_addr, over UDP, with a
// monotonically increasing frame counter (spec.md §4.4, "State broadcast").
func (r *Room) broadcastRoomState(ctx context.Context) {
	r.frames++
	resp := r.store.Engine.GetRoom(r.aliveClients())
	message := map[string]any{
		"room":    resp["room"],
		"frame":   r.frames,
		"room_id": r.ID,
	}
	payload, err := json.Marshal(message)
	if err != nil {
		logging.Warn(ctx, "failed to marshal room state broadcast", zap.Error(err))
		return
	}
	framed := append(payload, []byte(framing.Primary)...)

	r.mu.Lock()
	addrs := make([]string, 0, len(r.connections))
	for _, addr := range r.connections {
		addrs = append(addrs, addr)
	}
	r.mu.Unlock()

	for _, addr := range addrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			logging.Warn(ctx, "invalid broadcast address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		conn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			logging.Warn(ctx, "failed to dial broadcast address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		if _, err := conn.Write(framed); err != nil {
			logging.Warn(ctx, "failed to send broadcast", zap.String("addr", addr), zap.Error(err))
		}
		conn.Close()
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// ConnectionCount reports how many connections currently bind to a client,
// for the admin surface's /debug/rooms endpoint.
func (r *Room) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.socketIDMap)
}
