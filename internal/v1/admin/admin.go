// Package admin exposes the cluster's small HTTP surface: a liveness probe,
// Prometheus metrics, and a debug listing of currently spawned rooms. Room
// servers themselves speak only the framed stream protocol (internal/v1/server)
// and never run this surface.
package admin

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomcluster/internal/v1/middleware"
)

// RoomLister is the subset of *cluster.Cluster the admin surface needs. It
// is an interface so handler tests can substitute a fake cluster.
type RoomLister interface {
	RoomIDs() []string
	RoomCount() int
}

// ConnectionCounter optionally reports how many connections a room id has.
// A lookup wrapping *server.Room's ConnectionCount can back it; it is a
// function rather
// than an interface on RoomLister because the cluster only keeps Addr/done
// per room, not the Room itself. NewRouter works without it.
type ConnectionCounter func(roomID string) (int, bool)

// NewRouter builds the gin engine for the admin surface.
func NewRouter(rooms RoomLister, counter ConnectionCounter, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "rooms": rooms.RoomCount()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/debug/rooms", func(c *gin.Context) {
		ids := rooms.RoomIDs()
		entries := make([]gin.H, 0, len(ids))
		for _, id := range ids {
			entry := gin.H{"room_id": id}
			if counter != nil {
				if n, ok := counter(id); ok {
					entry["connections"] = n
				}
			}
			entries = append(entries, entry)
		}
		c.JSON(http.StatusOK, gin.H{"count": len(ids), "rooms": entries})
	})

	return router
}
