// Package catalog sends the periodic discovery beacon described in spec §6
// ("Wire: catalog beacon") and, when a Redis address is configured, mirrors
// the most recently sent beacon per project so that this otherwise
// fire-and-forget UDP datagram can be observed in tests.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"roomcluster/internal/v1/metrics"
)

// Payload is the beacon body, sent as one UDP datagram per interval.
type Payload struct {
	Type    string `json:"type"`
	Owner   string `json:"owner"`
	Port    int    `json:"port"`
	Project string `json:"project"`
}

// Config describes what to announce and how often.
type Config struct {
	CatalogAddr string // "host:port" of the external catalog, empty disables sending
	Type        string
	Owner       string
	Port        int
	Project     string
	// Interval <= 0 disables registration entirely (used for room servers,
	// whose discoverability goes through the cluster per spec §4.4).
	Interval time.Duration
}

// Beacon periodically announces Config to an external catalog over UDP. The
// catalog is out of scope (spec §2, "Non-goals") — only the registration
// message format is specified, so there is nothing here to dial back to;
// failures are logged and dropped until the next tick (spec §7, "Catalog
// beacon failures").
type Beacon struct {
	cfg   Config
	cb    *gobreaker.CircuitBreaker
	redis *redis.Client
	log   *zap.Logger
}

// New builds a Beacon. redisClient may be nil, in which case the last-sent
// mirror is skipped.
func New(cfg Config, redisClient *redis.Client, log *zap.Logger) *Beacon {
	st := gobreaker.Settings{
		Name:        "catalog_beacon",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Interval * 3,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("catalog_beacon").Set(stateVal)
		},
	}
	return &Beacon{
		cfg:   cfg,
		cb:    gobreaker.NewCircuitBreaker(st),
		redis: redisClient,
		log:   log,
	}
}

// Run sends one beacon immediately, then another every cfg.Interval until
// ctx is cancelled. It returns immediately if registration is disabled
// (Interval <= 0 or an empty CatalogAddr), per spec §4.4. The immediate send
// mirrors the source's GameServer.__init__, which registers once at startup
// in addition to the periodic beacon (SPEC_FULL.md §C.2).
func (b *Beacon) Run(ctx context.Context) {
	if b.cfg.Interval <= 0 || b.cfg.CatalogAddr == "" {
		return
	}
	b.sendOnce(ctx)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendOnce(ctx)
		}
	}
}

// sendOnce sends a single beacon datagram, recreating the socket each time
// (spec §5, "the catalog beacon socket is local to one send; recreated per
// broadcast").
func (b *Beacon) sendOnce(ctx context.Context) {
	payload := Payload{Type: b.cfg.Type, Owner: b.cfg.Owner, Port: b.cfg.Port, Project: b.cfg.Project}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("failed to marshal catalog beacon", zap.Error(err))
		metrics.BeaconsSent.WithLabelValues("error").Inc()
		return
	}

	_, err = b.cb.Execute(func() (interface{}, error) {
		conn, dialErr := net.Dial("udp", b.cfg.CatalogAddr)
		if dialErr != nil {
			return nil, dialErr
		}
		defer conn.Close()
		_, writeErr := conn.Write(data)
		return nil, writeErr
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			b.log.Warn("catalog beacon circuit open, skipping send", zap.String("project", b.cfg.Project))
			metrics.CircuitBreakerFailures.WithLabelValues("catalog_beacon").Inc()
		} else {
			b.log.Warn("catalog beacon send failed", zap.Error(err), zap.String("project", b.cfg.Project))
		}
		metrics.BeaconsSent.WithLabelValues("error").Inc()
		return
	}

	metrics.BeaconsSent.WithLabelValues("ok").Inc()
	b.mirror(ctx, payload)
}

// mirror stores the most recent beacon for this project in a Redis hash so
// tests (and operators) can observe what was last announced without
// sniffing UDP traffic. Best-effort: failures are logged, never fatal.
func (b *Beacon) mirror(ctx context.Context, payload Payload) {
	if b.redis == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := fmt.Sprintf("catalog:%s", payload.Project)
	if err := b.redis.HSet(ctx, key, "last_beacon", data, "owner", payload.Owner).Err(); err != nil {
		b.log.Warn("failed to mirror catalog beacon to redis", zap.Error(err))
	}
}
