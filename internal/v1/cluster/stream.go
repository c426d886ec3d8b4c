package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"roomcluster/internal/v1/framing"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/metrics"
	"roomcluster/internal/v1/wire"
)

// The cluster speaks the same framed stream protocol as a room (spec §6,
// "Wire: stream request (client → room or cluster)"), just with a
// different, unlogged set of methods and no durability layer behind them
// (spec §4.5, "In-memory only").

// Listen binds addr and returns the listener Serve will accept on. Splitting
// Listen from Serve lets callers (and tests) learn the bound port before the
// accept loop starts.
func (c *Cluster) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts stream connections on ln and dispatches each framed request
// to register_new_client, get_room_server, or shutdown_room until ctx is
// cancelled or the listener closes.
func (c *Cluster) Serve(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logging.Warn(ctx, "cluster accept failed", zap.Error(err))
				return
			}
		}
		go c.handleConn(ctx, conn)
	}
}

func (c *Cluster) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		data, err := framing.ReadMessage(conn)
		if err != nil {
			return
		}

		req, client, parseErr := wire.ParseRequest(data)
		if parseErr != nil {
			msg := "must be formatted as json"
			if errors.Is(parseErr, wire.ErrMissingFields) {
				msg = "malformed incoming command"
			}
			_ = framing.WriteMessage(conn, marshalOrError(wire.ErrorResponse(msg)))
			continue
		}

		resp := c.dispatch(ctx, req.Method, client)
		_, isError := resp["error"]
		status := "ok"
		if isError {
			status = "error"
		}
		metrics.CommandsTotal.WithLabelValues(req.Method, status).Inc()

		if err := framing.WriteMessage(conn, marshalOrError(resp)); err != nil {
			return
		}
	}
}

func (c *Cluster) dispatch(ctx context.Context, method, client string) wire.Response {
	switch method {
	case "register_new_client":
		return c.RegisterNewClient(client)
	case "get_room_server":
		resp, err := c.GetRoomServer(ctx, client)
		if err != nil {
			return wire.ErrorResponse(err.Error())
		}
		return resp
	case "shutdown_room":
		resp, err := c.ShutdownRoom(ctx, client)
		if err != nil {
			return wire.ErrorResponse(err.Error())
		}
		return resp
	default:
		return wire.MethodUnknown(method, "cluster")
	}
}

func marshalOrError(resp wire.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":"internal encoding error"}`)
	}
	return data
}
