// Package cluster implements the coordinator that registers new clients and
// lazily spawns room servers on demand (spec.md §4.5).
package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"roomcluster/internal/v1/durability"
	"roomcluster/internal/v1/engine"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/metrics"
	"roomcluster/internal/v1/ratelimit"
	"roomcluster/internal/v1/server"
)

// RoomHandle is everything the cluster keeps about a spawned room: where to
// reach it, and a signal for when its Server has finished shutting down.
type RoomHandle struct {
	Addr string
	done <-chan struct{}
}

// RoomFactory builds and starts a room server lazily, returning its handle.
// Production code uses NewRoomFactory; tests can substitute a fake.
type RoomFactory func(ctx context.Context, roomID string) (*RoomHandle, error)

// Cluster coordinates client registration and room lookup/spawn/reap. It
// intentionally keeps no durable state of its own: rooms remember where
// their clients last were, and room addresses change every time a room is
// respawned, so nothing here needs to survive a cluster restart
// (spec.md §4.5, "No cluster-level persistence").
type Cluster struct {
	host string

	mu             sync.Mutex
	lastRoom       map[string]string // client id -> last known room id
	rooms          map[string]*RoomHandle
	lifetimeClient int
	// draining holds the ids of rooms currently inside ShutdownRoom, so a
	// room that (incorrectly) sends shutdown_room twice, or a caller that
	// retries after a timeout, blocks on the same reap instead of racing a
	// second delete against the first (spec.md §4.5, "Reap contract").
	draining set.Set[string]

	spawn RoomFactory
	log   *zap.Logger
}

// New constructs a Cluster that advertises host as the address rooms are
// reachable at, and uses spawn to lazily bring up a room the first time it
// is requested.
func New(host string, spawn RoomFactory, log *zap.Logger) *Cluster {
	return &Cluster{
		host:     host,
		lastRoom: make(map[string]string),
		rooms:    make(map[string]*RoomHandle),
		draining: set.New[string](),
		spawn:    spawn,
		log:      log,
	}
}

// RegisterNewClient assigns a client to room 0 the first time it is seen,
// idempotently returning its last known room thereafter (spec.md §4.5,
// "register_new_client").
func (c *Cluster) RegisterNewClient(client string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok := c.lastRoom[client]; ok {
		return map[string]any{"client_id": client, "last_room": room}
	}
	c.lastRoom[client] = "0"
	c.lifetimeClient++
	return map[string]any{"client_id": client, "last_room": "0"}
}

// GetRoomServer returns the address of roomID, spawning it if it isn't
// already running (spec.md §4.5, "get_room_server").
func (c *Cluster) GetRoomServer(ctx context.Context, roomID string) (map[string]any, error) {
	c.mu.Lock()
	if handle, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return map[string]any{"addr": handle.Addr}, nil
	}
	c.mu.Unlock()

	logging.Info(ctx, "spawning room", zap.String("room_id", roomID))
	handle, err := c.spawn(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("spawn room %s: %w", roomID, err)
	}

	c.mu.Lock()
	c.rooms[roomID] = handle
	c.mu.Unlock()
	metrics.ActiveRooms.Inc()

	return map[string]any{"addr": handle.Addr}, nil
}

// ShutdownRoom reaps a room that has reported itself idle. If the room's
// Server hasn't actually finished shutting down yet, this logs a warning
// and blocks on its completion signal anyway — mirroring the source's
// shutdown_room, which checks future.done() only to decide whether to warn,
// then always calls future.result() (spec.md §9, "Reap ordering").
func (c *Cluster) ShutdownRoom(ctx context.Context, roomID string) (map[string]any, error) {
	c.mu.Lock()
	handle, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("room %s is not running", roomID)
	}
	alreadyDraining := c.draining.Has(roomID)
	c.draining.Insert(roomID)
	c.mu.Unlock()

	if alreadyDraining {
		logging.Warn(ctx, "duplicate shutdown_room while already draining, waiting on the same reap", zap.String("room_id", roomID))
	}

	select {
	case <-handle.done:
	default:
		logging.Warn(ctx, "room reported shutdown but its server has not finished stopping", zap.String("room_id", roomID))
	}
	<-handle.done

	c.mu.Lock()
	_, stillPresent := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.draining.Delete(roomID)
	c.mu.Unlock()
	if stillPresent {
		metrics.ActiveRooms.Dec()
	}

	return map[string]any{"success": fmt.Sprintf("room %s has been removed", roomID)}, nil
}

// RoomCount reports how many rooms are currently spawned, for the admin
// surface's /healthz endpoint.
func (c *Cluster) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// RoomIDs returns a snapshot of currently spawned room ids.
func (c *Cluster) RoomIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// NewRoomFactory builds the production RoomFactory: each call opens a fresh
// per-room durability store (game{id}.log/.ckpt) and starts a server.Server
// listening on an OS-assigned port on all interfaces, advertised to clients
// as host:port, returning once it is ready to accept connections. redisClient may be nil, in which case the rate limiter
// falls back to an in-memory store.
func NewRoomFactory(host, baseDir, clusterAddr string, udpEnabled bool, limiterRate string, redisClient *redis.Client, log *zap.Logger) RoomFactory {
	return func(ctx context.Context, roomID string) (*RoomHandle, error) {
		logPath := fmt.Sprintf("%s/game%s.log", baseDir, roomID)
		ckptPath := fmt.Sprintf("%s/game%s.ckpt", baseDir, roomID)

		eng := engine.New(engine.DefaultConfig())
		store, err := durability.Open(eng, logPath, ckptPath, durability.DefaultCheckpointThreshold)
		if err != nil {
			return nil, err
		}

		var limit *ratelimit.CommandLimiter
		if limiterRate != "" {
			limit, err = ratelimit.New(limiterRate, redisClient)
			if err != nil {
				return nil, err
			}
		}

		srv, err := server.New(roomID, "0.0.0.0:0", store, limit, udpEnabled, clusterAddr, log)
		if err != nil {
			return nil, err
		}

		go srv.Serve(ctx)

		return &RoomHandle{
			Addr: fmt.Sprintf("%s:%d", host, srv.Port()),
			done: srv.Room.Done(),
		}, nil
	}
}
