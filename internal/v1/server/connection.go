package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"

	"roomcluster/internal/v1/framing"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/metrics"
	"roomcluster/internal/v1/ratelimit"
	"roomcluster/internal/v1/wire"
)

// serveConnection is the per-connection reader: it blocks on one framed
// request at a time, forwards it to the room's dispatch goroutine, and
// writes back whatever response comes out, until the connection closes or a
// reply cannot be written. A malformed or rate-limited request gets an error
// reply and the loop keeps reading (spec.md §4.4, "Connection lifecycle").
func serveConnection(ctx context.Context, connID string, conn net.Conn, room *Room, limit *ratelimit.CommandLimiter) {
	defer conn.Close()
	metrics.IncConnection()
	defer metrics.DecConnection()
	defer room.Disconnect(connID)

	for {
		data, err := framing.ReadMessage(conn)
		if err != nil {
			logging.Info(ctx, "connection closed", zap.String("conn_id", connID), zap.Error(err))
			return
		}

		req, client, parseErr := wire.ParseRequest(data)
		if parseErr != nil {
			logging.Warn(ctx, "failed to parse request", zap.String("conn_id", connID), zap.Error(parseErr))
			msg := "must be formatted as json"
			if errors.Is(parseErr, wire.ErrMissingFields) {
				msg = "malformed incoming command"
			}
			if writeErr := framing.WriteMessage(conn, mustMarshal(wire.ErrorResponse(msg))); writeErr != nil {
				return
			}
			continue
		}

		if limit != nil && !limit.Allow(ctx, client) {
			if writeErr := framing.WriteMessage(conn, mustMarshal(wire.ErrorResponse("rate limit exceeded"))); writeErr != nil {
				return
			}
			continue
		}

		resp := room.Submit(req, client, connID)
		if err := framing.WriteMessage(conn, mustMarshal(resp)); err != nil {
			logging.Warn(ctx, "failed to write response", zap.String("conn_id", connID), zap.Error(err))
			return
		}
	}
}

func mustMarshal(resp wire.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":"internal encoding error"}`)
	}
	return data
}
